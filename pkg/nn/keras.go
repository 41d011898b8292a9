package nn

import (
	"fmt"
	"math"

	"github.com/sbinet/npyio/npz"
)

const (
	MobileNetV1Name = "mobilenet-v1"

	// kerasBNEpsilon is the batch normalization epsilon Keras MobileNet is built with.
	kerasBNEpsilon = 1e-3
)

// mobileNetV1Strides are the depthwise strides of the 13 separable blocks.
var mobileNetV1Strides = []int{1, 2, 1, 2, 1, 2, 1, 1, 1, 1, 1, 2, 1}

// ImportKerasMobileNet converts ImageNet-pretrained Keras MobileNet (v1) weights saved
// with numpy.savez, one array per model weight keyed by its Keras name
// ("conv1/kernel:0", "conv_dw_1_bn/gamma:0", ...). Batch normalization is folded into
// the convolutions. Channel widths are read from the file, so any alpha works.
func ImportKerasMobileNet(path string, size int) (*MobileNetLite, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	w := &kerasWeights{r: r, keys: map[string]bool{}}
	for _, k := range r.Keys() {
		w.keys[k] = true
	}

	m := &MobileNetLite{Arch: MobileNetV1Name, Size: size}
	stem, err := w.conv(ConvFull, "conv1", "conv1_bn", 3, 2)
	if err != nil {
		return nil, err
	}
	m.Layers = append(m.Layers, stem)

	in := stem.Out
	for i, stride := range mobileNetV1Strides {
		dw, err := w.conv(ConvDepthwise, fmt.Sprintf("conv_dw_%d", i+1), fmt.Sprintf("conv_dw_%d_bn", i+1), in, stride)
		if err != nil {
			return nil, err
		}
		pw, err := w.conv(ConvPointwise, fmt.Sprintf("conv_pw_%d", i+1), fmt.Sprintf("conv_pw_%d_bn", i+1), in, 1)
		if err != nil {
			return nil, err
		}
		m.Layers = append(m.Layers, dw, pw)
		in = pw.Out
	}
	log.Infof("imported %s from %s: %d layers, %d features", m.Name(), path, len(m.Layers), m.OutputSize())
	return m, nil
}

type kerasWeights struct {
	r    *npz.Reader
	keys map[string]bool
}

// read returns the named array, accepting the key with or without the ":0" tensor suffix
// and the ".npy" member extension.
func (w *kerasWeights) read(name string, want int) ([]float32, error) {
	for _, key := range []string{name + ":0.npy", name + ".npy", name + ":0", name} {
		if !w.keys[key] {
			continue
		}
		hdr := w.r.Header(key)
		n := 1
		for _, d := range hdr.Descr.Shape {
			n *= d
		}
		if n != want {
			return nil, fmt.Errorf("weight %s: expected %d values, got shape %v", name, want, hdr.Descr.Shape)
		}
		switch hdr.Descr.Type {
		case "<f4":
			var out []float32
			if err := w.r.Read(key, &out); err != nil {
				return nil, fmt.Errorf("read %s: %w", name, err)
			}
			return out, nil
		case "<f8":
			var wide []float64
			if err := w.r.Read(key, &wide); err != nil {
				return nil, fmt.Errorf("read %s: %w", name, err)
			}
			out := make([]float32, len(wide))
			for i, v := range wide {
				out[i] = float32(v)
			}
			return out, nil
		default:
			return nil, fmt.Errorf("weight %s: unsupported dtype %s", name, hdr.Descr.Type)
		}
	}
	return nil, fmt.Errorf("weight %s not found", name)
}

// width is the output channel count of a layer, taken from its batch norm beta.
func (w *kerasWeights) width(bn string) (int, error) {
	for _, key := range []string{bn + "/beta:0.npy", bn + "/beta.npy", bn + "/beta:0", bn + "/beta"} {
		if w.keys[key] {
			hdr := w.r.Header(key)
			if len(hdr.Descr.Shape) != 1 {
				return 0, fmt.Errorf("weight %s/beta: expected a vector, got shape %v", bn, hdr.Descr.Shape)
			}
			return hdr.Descr.Shape[0], nil
		}
	}
	return 0, fmt.Errorf("weight %s/beta not found", bn)
}

// conv reads a bias-free Keras convolution and its batch norm as one ConvLayer.
// Keras kernels are [kh][kw][in][out] ([kh][kw][in][1] for depthwise).
func (w *kerasWeights) conv(kind ConvKind, name, bn string, in, stride int) (ConvLayer, error) {
	out := in
	if kind != ConvDepthwise {
		var err error
		if out, err = w.width(bn); err != nil {
			return ConvLayer{}, err
		}
	}

	l := ConvLayer{Kind: kind, In: in, Out: out, Stride: stride, Bias: make([]float32, out)}
	switch kind {
	case ConvFull:
		k, err := w.read(name+"/kernel", 9*in*out)
		if err != nil {
			return l, err
		}
		l.Weights = make([]float32, len(k))
		for ky := 0; ky < 3; ky++ {
			for kx := 0; kx < 3; kx++ {
				for c := 0; c < in; c++ {
					for o := 0; o < out; o++ {
						l.Weights[((o*3+ky)*3+kx)*in+c] = k[((ky*3+kx)*in+c)*out+o]
					}
				}
			}
		}
	case ConvDepthwise:
		k, err := w.read(name+"/depthwise_kernel", 9*in)
		if err != nil {
			return l, err
		}
		l.Weights = make([]float32, len(k))
		for ky := 0; ky < 3; ky++ {
			for kx := 0; kx < 3; kx++ {
				for c := 0; c < in; c++ {
					l.Weights[(c*3+ky)*3+kx] = k[(ky*3+kx)*in+c]
				}
			}
		}
	case ConvPointwise:
		k, err := w.read(name+"/kernel", in*out)
		if err != nil {
			return l, err
		}
		l.Weights = make([]float32, len(k))
		for c := 0; c < in; c++ {
			for o := 0; o < out; o++ {
				l.Weights[o*in+c] = k[c*out+o]
			}
		}
	}

	if err := w.foldBatchNorm(&l, bn); err != nil {
		return l, err
	}
	return l, nil
}

// foldBatchNorm rescales each output channel by gamma/sqrt(var+eps) and sets the bias to
// beta - mean*scale, so inference needs no separate normalization step.
func (w *kerasWeights) foldBatchNorm(l *ConvLayer, bn string) error {
	params := map[string][]float32{}
	for _, p := range []string{"gamma", "beta", "moving_mean", "moving_variance"} {
		v, err := w.read(bn+"/"+p, l.Out)
		if err != nil {
			return err
		}
		params[p] = v
	}
	perOut := len(l.Weights) / l.Out
	for o := 0; o < l.Out; o++ {
		scale := params["gamma"][o] / float32(math.Sqrt(float64(params["moving_variance"][o])+kerasBNEpsilon))
		for i := o * perOut; i < (o+1)*perOut; i++ {
			l.Weights[i] *= scale
		}
		l.Bias[o] = params["beta"][o] - params["moving_mean"][o]*scale
	}
	return nil
}
