// Package nn contains the small neural-network toolkit behind the equipment recognizer:
// a frozen convolutional feature extractor and a trainable dense classification head.
package nn

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/imaging"
)

var log = internal.GetLogger()

// Backbone turns a normalized image tensor into a fixed-length feature vector. Backbones
// are frozen; Extract must be safe for concurrent use.
type Backbone interface {
	Name() string
	InputSize() int
	OutputSize() int
	Extract(t imaging.Tensor) []float64
}

const mobileNetLiteName = "mobilenet-lite"

// MobileNetLite is a MobileNet-style stack: a stride-2 3×3 stem followed by
// depthwise-separable blocks with ReLU6 activations. A 224 input is reduced to a 7×7 map.
// The feature vector concatenates the global average pool of every layer in Pooled, or
// of the last layer alone when Pooled is empty.
type MobileNetLite struct {
	// Arch names imported architectures; empty means the built-in mobilenet-lite stack.
	Arch   string
	Size   int
	Layers []ConvLayer
	Pooled []int
}

// mobileNetLiteWidths are the channel counts after the stem and after each block.
var mobileNetLiteWidths = []int{32, 64, 128, 256, 1024}

// NewMobileNetLite builds the backbone with He-initialized weights drawn from seed. It
// pools the stem and every block, so color and coarse texture reach the head alongside
// the deepest features.
func NewMobileNetLite(size int, seed int64) *MobileNetLite {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec
	m := &MobileNetLite{Size: size, Pooled: []int{0}}
	m.Layers = append(m.Layers, newConvLayer(ConvFull, 3, mobileNetLiteWidths[0], 2, rng))
	for i := 1; i < len(mobileNetLiteWidths); i++ {
		in, out := mobileNetLiteWidths[i-1], mobileNetLiteWidths[i]
		m.Layers = append(m.Layers,
			newConvLayer(ConvDepthwise, in, in, 2, rng),
			newConvLayer(ConvPointwise, in, out, 1, rng),
		)
		m.Pooled = append(m.Pooled, len(m.Layers)-1)
	}
	return m
}

func (m *MobileNetLite) Name() string {
	if m.Arch != "" {
		return m.Arch
	}
	return mobileNetLiteName
}

func (m *MobileNetLite) InputSize() int {
	return m.Size
}

func (m *MobileNetLite) pooled() []int {
	if len(m.Pooled) == 0 {
		return []int{len(m.Layers) - 1}
	}
	return m.Pooled
}

func (m *MobileNetLite) OutputSize() int {
	n := 0
	for _, i := range m.pooled() {
		n += m.Layers[i].Out
	}
	return n
}

func (m *MobileNetLite) Extract(t imaging.Tensor) []float64 {
	pooled := m.pooled()
	out := make([]float64, 0, m.OutputSize())
	x := t
	next := 0
	for i, l := range m.Layers {
		x = l.Forward(x)
		if next < len(pooled) && pooled[next] == i {
			out = append(out, GlobalAveragePool(x)...)
			next++
		}
	}
	return out
}

// SaveBackbone writes the backbone weights so they can be shipped as a pretrained file.
func SaveBackbone(path string, m *MobileNetLite) error {
	return artifacts.WriteGobAtomic(path, m)
}

// LoadBackbone reads backbone weights and checks the layer shapes are coherent.
func LoadBackbone(path string) (*MobileNetLite, error) {
	var m MobileNetLite
	if err := artifacts.ReadGob(path, &m); err != nil {
		return nil, err
	}
	if len(m.Layers) == 0 || m.Layers[0].In != 3 {
		return nil, fmt.Errorf("backbone %s: expected an RGB stem layer", path)
	}
	for i, p := range m.Pooled {
		if p < 0 || p >= len(m.Layers) || (i > 0 && p <= m.Pooled[i-1]) {
			return nil, fmt.Errorf("backbone %s: pooled layers %v are not ascending layer indexes", path, m.Pooled)
		}
	}
	for i := 1; i < len(m.Layers); i++ {
		if m.Layers[i].In != m.Layers[i-1].Out {
			return nil, fmt.Errorf("backbone %s: layer %d expects %d channels, got %d",
				path, i, m.Layers[i].In, m.Layers[i-1].Out)
		}
	}
	return &m, nil
}

// NewBackbone returns the configured backbone: pretrained weights when weightsPath is
// set (a converted backbone file, or Keras MobileNet weights in .npz form), otherwise the
// seeded initialization.
func NewBackbone(weightsPath string, size int, seed int64) (Backbone, error) {
	if weightsPath == "" {
		return NewMobileNetLite(size, seed), nil
	}
	var m *MobileNetLite
	var err error
	if strings.HasSuffix(weightsPath, ".npz") {
		m, err = ImportKerasMobileNet(weightsPath, size)
	} else {
		m, err = LoadBackbone(weightsPath)
	}
	if err != nil {
		return nil, err
	}
	if m.Size == 0 {
		m.Size = size
	}
	log.Infof("loaded %s backbone weights from %s", m.Name(), weightsPath)
	return m, nil
}
