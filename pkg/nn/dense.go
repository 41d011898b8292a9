package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected layer y = xW + b with an optional ReLU.
type Dense struct {
	W    *mat.Dense
	B    []float64
	ReLU bool

	// cached for the backward pass
	in, out *mat.Dense
	dW      *mat.Dense
	dB      []float64
}

// NewDense uses Glorot-uniform initialization, matching the usual default for dense layers.
func NewDense(in, out int, relu bool, rng *rand.Rand) *Dense {
	limit := math.Sqrt(6 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return &Dense{W: mat.NewDense(in, out, data), B: make([]float64, out), ReLU: relu}
}

func (d *Dense) Forward(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	_, out := d.W.Dims()
	y := mat.NewDense(n, out, nil)
	y.Mul(x, d.W)
	for i := 0; i < n; i++ {
		row := y.RawRowView(i)
		floats.Add(row, d.B)
		if d.ReLU {
			for j, v := range row {
				if v < 0 {
					row[j] = 0
				}
			}
		}
	}
	d.in, d.out = x, y
	return y
}

// Backward takes the gradient w.r.t. the layer output and returns the gradient w.r.t.
// its input, accumulating parameter gradients in dW and dB.
func (d *Dense) Backward(grad *mat.Dense) *mat.Dense {
	n, out := grad.Dims()
	if d.ReLU {
		for i := 0; i < n; i++ {
			g := grad.RawRowView(i)
			y := d.out.RawRowView(i)
			for j := range g {
				if y[j] <= 0 {
					g[j] = 0
				}
			}
		}
	}
	in, _ := d.W.Dims()
	d.dW = mat.NewDense(in, out, nil)
	d.dW.Mul(d.in.T(), grad)
	d.dB = make([]float64, out)
	for i := 0; i < n; i++ {
		floats.Add(d.dB, grad.RawRowView(i))
	}
	dx := mat.NewDense(n, in, nil)
	dx.Mul(grad, d.W.T())
	return dx
}

// Dropout zeroes activations with probability Rate during training and rescales the
// survivors by 1/(1-Rate). It is the identity at inference.
type Dropout struct {
	Rate float64
	mask []float64
}

func (d *Dropout) Forward(x *mat.Dense, training bool, rng *rand.Rand) *mat.Dense {
	if !training || d.Rate == 0 {
		d.mask = nil
		return x
	}
	n, m := x.Dims()
	keep := 1 - d.Rate
	d.mask = make([]float64, n*m)
	y := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		src, dst := x.RawRowView(i), y.RawRowView(i)
		for j, v := range src {
			if rng.Float64() < keep {
				d.mask[i*m+j] = 1 / keep
				dst[j] = v / keep
			}
		}
	}
	return y
}

func (d *Dropout) Backward(grad *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return grad
	}
	n, m := grad.Dims()
	for i := 0; i < n; i++ {
		row := grad.RawRowView(i)
		for j := range row {
			row[j] *= d.mask[i*m+j]
		}
	}
	return grad
}

// SoftmaxRows applies a numerically stable softmax to each row in place.
func SoftmaxRows(x *mat.Dense) {
	n, _ := x.Dims()
	for i := 0; i < n; i++ {
		Softmax(x.RawRowView(i))
	}
}

func Softmax(row []float64) {
	mx := floats.Max(row)
	var sum float64
	for j, v := range row {
		row[j] = math.Exp(v - mx)
		sum += row[j]
	}
	floats.Scale(1/sum, row)
}

// CrossEntropy is the mean categorical cross-entropy of probabilities against integer labels.
func CrossEntropy(probs *mat.Dense, labels []int) float64 {
	const eps = 1e-7
	var loss float64
	for i, y := range labels {
		p := math.Min(math.Max(probs.At(i, y), eps), 1-eps)
		loss -= math.Log(p)
	}
	return loss / float64(len(labels))
}

// Accuracy is the fraction of rows whose argmax equals the label.
func Accuracy(probs *mat.Dense, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	var hits int
	for i, y := range labels {
		if floats.MaxIdx(probs.RawRowView(i)) == y {
			hits++
		}
	}
	return float64(hits) / float64(len(labels))
}
