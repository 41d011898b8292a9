package imaging

import (
	"image"
)

// Tensor is a height×width×channels float32 image in row-major HWC order.
type Tensor struct {
	H, W, C int
	Data    []float32
}

func NewTensor(h, w, c int) Tensor {
	return Tensor{H: h, W: w, C: c, Data: make([]float32, h*w*c)}
}

func (t Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.W+x)*t.C+c]
}

func (t Tensor) Set(y, x, c int, v float32) {
	t.Data[(y*t.W+x)*t.C+c] = v
}

func (t Tensor) Clone() Tensor {
	out := Tensor{H: t.H, W: t.W, C: t.C, Data: make([]float32, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// FromImage resizes img to size×size and returns an RGB tensor scaled to [0,1].
func FromImage(img image.Image, size int) Tensor {
	rgba := Resize(img, size, size)
	return FromRGBA(rgba)
}

// FromRGBA converts an RGBA image to an RGB tensor scaled to [0,1]. Alpha is dropped.
func FromRGBA(rgba *image.RGBA) Tensor {
	b := rgba.Bounds()
	t := NewTensor(b.Dy(), b.Dx(), 3)
	for y := 0; y < t.H; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < t.W; x++ {
			i := (y*t.W + x) * 3
			t.Data[i] = float32(row[x*4]) / 255
			t.Data[i+1] = float32(row[x*4+1]) / 255
			t.Data[i+2] = float32(row[x*4+2]) / 255
		}
	}
	return t
}

// Normalize applies the MobileNet input scaling, mapping [0,1] to [-1,1].
func Normalize(t Tensor) Tensor {
	out := Tensor{H: t.H, W: t.W, C: t.C, Data: make([]float32, len(t.Data))}
	for i, v := range t.Data {
		out.Data[i] = v*2 - 1
	}
	return out
}

// ToRGBA converts a [0,1] tensor back to an 8-bit image.
func (t Tensor) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.W, t.H))
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			i := (y*t.W + x) * t.C
			o := y*img.Stride + x*4
			for c := 0; c < 3 && c < t.C; c++ {
				img.Pix[o+c] = to8(t.Data[i+c])
			}
			img.Pix[o+3] = 255
		}
	}
	return img
}

func to8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
