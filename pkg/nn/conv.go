package nn

import (
	"math"
	"math/rand"

	"github.com/labmanager/labml/pkg/imaging"
)

// ConvKind selects between a full 3×3 convolution, a 3×3 depthwise convolution and a
// 1×1 pointwise convolution.
type ConvKind int

const (
	ConvFull ConvKind = iota
	ConvDepthwise
	ConvPointwise
)

// ConvLayer holds frozen convolution weights. Weights are laid out as
// [out][kh][kw][in] for full convolutions, [c][kh][kw] for depthwise and [out][in] for
// pointwise.
type ConvLayer struct {
	Kind    ConvKind
	In      int
	Out     int
	Stride  int
	Weights []float32
	Bias    []float32
}

func newConvLayer(kind ConvKind, in, out, stride int, rng *rand.Rand) ConvLayer {
	var n, fanIn int
	switch kind {
	case ConvFull:
		n, fanIn = out*9*in, 9*in
	case ConvDepthwise:
		out = in
		n, fanIn = in*9, 9
	case ConvPointwise:
		n, fanIn = out*in, in
	}
	std := math.Sqrt(2 / float64(fanIn))
	l := ConvLayer{Kind: kind, In: in, Out: out, Stride: stride, Weights: make([]float32, n), Bias: make([]float32, out)}
	for i := range l.Weights {
		l.Weights[i] = float32(rng.NormFloat64() * std)
	}
	return l
}

// Forward applies the layer followed by ReLU6. 3×3 kernels use "same" zero padding,
// placing any odd padding row or column after the image as TensorFlow does.
func (l ConvLayer) Forward(x imaging.Tensor) imaging.Tensor {
	switch l.Kind {
	case ConvDepthwise:
		return l.depthwise(x)
	case ConvPointwise:
		return l.pointwise(x)
	default:
		return l.full(x)
	}
}

func outSize(n, stride int) int {
	return (n + stride - 1) / stride
}

// padBefore is the leading "same" padding of a 3-tap kernel.
func padBefore(n, stride int) int {
	return max((outSize(n, stride)-1)*stride+3-n, 0) / 2
}

func (l ConvLayer) full(x imaging.Tensor) imaging.Tensor {
	oh, ow := outSize(x.H, l.Stride), outSize(x.W, l.Stride)
	pt, pl := padBefore(x.H, l.Stride), padBefore(x.W, l.Stride)
	out := imaging.NewTensor(oh, ow, l.Out)
	acc := make([]float32, l.Out)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			copy(acc, l.Bias)
			for ky := 0; ky < 3; ky++ {
				iy := oy*l.Stride + ky - pt
				if iy < 0 || iy >= x.H {
					continue
				}
				for kx := 0; kx < 3; kx++ {
					ix := ox*l.Stride + kx - pl
					if ix < 0 || ix >= x.W {
						continue
					}
					px := x.Data[(iy*x.W+ix)*x.C : (iy*x.W+ix)*x.C+x.C]
					for o := 0; o < l.Out; o++ {
						w := l.Weights[((o*3+ky)*3+kx)*l.In:]
						var s float32
						for c, v := range px {
							s += v * w[c]
						}
						acc[o] += s
					}
				}
			}
			base := (oy*ow + ox) * l.Out
			for o, v := range acc {
				out.Data[base+o] = relu6(v)
			}
		}
	}
	return out
}

func (l ConvLayer) depthwise(x imaging.Tensor) imaging.Tensor {
	oh, ow := outSize(x.H, l.Stride), outSize(x.W, l.Stride)
	pt, pl := padBefore(x.H, l.Stride), padBefore(x.W, l.Stride)
	out := imaging.NewTensor(oh, ow, x.C)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			base := (oy*ow + ox) * x.C
			for c := 0; c < x.C; c++ {
				s := l.Bias[c]
				for ky := 0; ky < 3; ky++ {
					iy := oy*l.Stride + ky - pt
					if iy < 0 || iy >= x.H {
						continue
					}
					for kx := 0; kx < 3; kx++ {
						ix := ox*l.Stride + kx - pl
						if ix < 0 || ix >= x.W {
							continue
						}
						s += x.Data[(iy*x.W+ix)*x.C+c] * l.Weights[(c*3+ky)*3+kx]
					}
				}
				out.Data[base+c] = relu6(s)
			}
		}
	}
	return out
}

func (l ConvLayer) pointwise(x imaging.Tensor) imaging.Tensor {
	out := imaging.NewTensor(x.H, x.W, l.Out)
	for p := 0; p < x.H*x.W; p++ {
		px := x.Data[p*x.C : p*x.C+x.C]
		for o := 0; o < l.Out; o++ {
			w := l.Weights[o*l.In : o*l.In+l.In]
			s := l.Bias[o]
			for c, v := range px {
				s += v * w[c]
			}
			out.Data[p*l.Out+o] = relu6(s)
		}
	}
	return out
}

func relu6(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 6 {
		return 6
	}
	return v
}

// GlobalAveragePool reduces an H×W×C map to C channel means.
func GlobalAveragePool(x imaging.Tensor) []float64 {
	out := make([]float64, x.C)
	for p := 0; p < x.H*x.W; p++ {
		for c := 0; c < x.C; c++ {
			out[c] += float64(x.Data[p*x.C+c])
		}
	}
	n := float64(x.H * x.W)
	for c := range out {
		out[c] /= n
	}
	return out
}
