package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Head is the trainable classifier placed on top of the pooled backbone features:
// Dense(512, ReLU) → Dropout(0.3) → Dense(256, ReLU) → Dropout(0.2) → Dense(K) → softmax.
type Head struct {
	dense []*Dense
	drop  []*Dropout
}

var (
	headUnits   = []int{512, 256}
	headDropout = []float64{0.3, 0.2}
)

func NewHead(inputs, classes int, seed int64) *Head {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec
	h := &Head{}
	prev := inputs
	for i, units := range headUnits {
		h.dense = append(h.dense, NewDense(prev, units, true, rng))
		h.drop = append(h.drop, &Dropout{Rate: headDropout[i]})
		prev = units
	}
	h.dense = append(h.dense, NewDense(prev, classes, false, rng))
	return h
}

func (h *Head) Inputs() int {
	r, _ := h.dense[0].W.Dims()
	return r
}

func (h *Head) Classes() int {
	_, c := h.dense[len(h.dense)-1].W.Dims()
	return c
}

func (h *Head) forward(x *mat.Dense, training bool, rng *rand.Rand) *mat.Dense {
	for i, d := range h.dense {
		x = d.Forward(x)
		if i < len(h.drop) {
			x = h.drop[i].Forward(x, training, rng)
		}
	}
	SoftmaxRows(x)
	return x
}

// Predict returns class probabilities for each row of x.
func (h *Head) Predict(x *mat.Dense) *mat.Dense {
	return h.forward(x, false, nil)
}

// PredictOne is Predict for a single feature vector. It does not touch the layer caches
// and is safe for concurrent use on a head that is no longer being trained.
func (h *Head) PredictOne(features []float64) []float64 {
	row := append([]float64(nil), features...)
	for _, d := range h.dense {
		in, out := d.W.Dims()
		next := make([]float64, out)
		copy(next, d.B)
		for i := 0; i < in; i++ {
			if row[i] == 0 {
				continue
			}
			wr := d.W.RawRowView(i)
			for j := range next {
				next[j] += row[i] * wr[j]
			}
		}
		if d.ReLU {
			for j, v := range next {
				if v < 0 {
					next[j] = 0
				}
			}
		}
		row = next
	}
	Softmax(row)
	return row
}

// TrainBatch runs one forward/backward pass and an optimizer step, returning the batch loss.
func (h *Head) TrainBatch(x *mat.Dense, labels []int, opt *Adam, rng *rand.Rand) float64 {
	probs := h.forward(x, true, rng)
	loss := CrossEntropy(probs, labels)

	n := float64(len(labels))
	grad := mat.DenseCopyOf(probs)
	for i, y := range labels {
		grad.Set(i, y, grad.At(i, y)-1)
	}
	grad.Scale(1/n, grad)

	for i := len(h.dense) - 1; i >= 0; i-- {
		if i < len(h.drop) {
			grad = h.drop[i].Backward(grad)
		}
		grad = h.dense[i].Backward(grad)
	}
	opt.Step()
	for _, d := range h.dense {
		opt.Update(d.W.RawMatrix().Data, d.dW.RawMatrix().Data)
		opt.Update(d.B, d.dB)
	}
	return loss
}

// LayerWeights is the serializable form of one dense layer.
type LayerWeights struct {
	In, Out int
	ReLU    bool
	W       []float64
	B       []float64
}

// HeadWeights is the serializable form of a Head.
type HeadWeights struct {
	Layers   []LayerWeights
	Dropouts []float64
}

// Weights returns a deep copy of the head parameters.
func (h *Head) Weights() HeadWeights {
	var hw HeadWeights
	for _, d := range h.dense {
		in, out := d.W.Dims()
		hw.Layers = append(hw.Layers, LayerWeights{
			In: in, Out: out, ReLU: d.ReLU,
			W: append([]float64(nil), d.W.RawMatrix().Data...),
			B: append([]float64(nil), d.B...),
		})
	}
	for _, d := range h.drop {
		hw.Dropouts = append(hw.Dropouts, d.Rate)
	}
	return hw
}

// SetWeights copies hw into the existing parameter storage, keeping optimizer state keyed.
func (h *Head) SetWeights(hw HeadWeights) error {
	if len(hw.Layers) != len(h.dense) {
		return fmt.Errorf("head has %d layers, weights have %d", len(h.dense), len(hw.Layers))
	}
	for i, d := range h.dense {
		in, out := d.W.Dims()
		lw := hw.Layers[i]
		if lw.In != in || lw.Out != out {
			return fmt.Errorf("layer %d shape %dx%d does not match weights %dx%d", i, in, out, lw.In, lw.Out)
		}
		copy(d.W.RawMatrix().Data, lw.W)
		copy(d.B, lw.B)
	}
	return nil
}

// HeadFromWeights rebuilds a head from its serialized form.
func HeadFromWeights(hw HeadWeights) (*Head, error) {
	if len(hw.Layers) == 0 {
		return nil, fmt.Errorf("empty head weights")
	}
	h := &Head{}
	for i, lw := range hw.Layers {
		if len(lw.W) != lw.In*lw.Out || len(lw.B) != lw.Out {
			return nil, fmt.Errorf("layer %d: weight size mismatch", i)
		}
		if i > 0 && hw.Layers[i-1].Out != lw.In {
			return nil, fmt.Errorf("layer %d: expects %d inputs, previous layer has %d outputs",
				i, lw.In, hw.Layers[i-1].Out)
		}
		h.dense = append(h.dense, &Dense{
			W:    mat.NewDense(lw.In, lw.Out, append([]float64(nil), lw.W...)),
			B:    append([]float64(nil), lw.B...),
			ReLU: lw.ReLU,
		})
	}
	for _, rate := range hw.Dropouts {
		h.drop = append(h.drop, &Dropout{Rate: rate})
	}
	return h, nil
}
