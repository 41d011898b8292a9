package nn

import "math"

// Adam keeps first and second moment estimates per parameter slice.
type Adam struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64

	step int
	m, v map[*float64][]float64
}

func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:      lr,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-7,
		m:       map[*float64][]float64{},
		v:       map[*float64][]float64{},
	}
}

// Step must be called once per batch before Update.
func (a *Adam) Step() {
	a.step++
}

// Update applies one Adam step to params given grads. Moments are keyed by the address
// of the first parameter, so the same slice must be passed on every call.
func (a *Adam) Update(params, grads []float64) {
	if len(params) == 0 {
		return
	}
	key := &params[0]
	m, ok := a.m[key]
	if !ok {
		m = make([]float64, len(params))
		a.m[key] = m
		a.v[key] = make([]float64, len(params))
	}
	v := a.v[key]
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))
	for i, g := range grads {
		m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
		v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
		mHat := m[i] / bc1
		vHat := v[i] / bc2
		params[i] -= a.LR * mHat / (math.Sqrt(vHat) + a.Epsilon)
	}
}
