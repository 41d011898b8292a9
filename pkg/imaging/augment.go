package imaging

import (
	"image"
	"math"
	"math/rand"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// AugmentOptions are the per-transform probabilities and ranges used by Augmenter.
type AugmentOptions struct {
	FlipProb       float64
	RotateProb     float64
	MaxRotateDeg   float64
	BrightnessProb float64
	BrightnessMin  float64
	BrightnessMax  float64
	ZoomProb       float64
	ZoomMin        float64
	ZoomMax        float64
	NoiseProb      float64
	NoiseSigma     float64
}

// DefaultAugmentOptions returns the training augmentation policy.
func DefaultAugmentOptions() AugmentOptions {
	return AugmentOptions{
		FlipProb:       0.5,
		RotateProb:     0.7,
		MaxRotateDeg:   15,
		BrightnessProb: 0.7,
		BrightnessMin:  0.8,
		BrightnessMax:  1.2,
		ZoomProb:       0.5,
		ZoomMin:        0.9,
		ZoomMax:        1.1,
		NoiseProb:      0.3,
		NoiseSigma:     0.02,
	}
}

// Augmenter produces randomized variants of a photo. It is not safe for concurrent use;
// the sequence is fully determined by the seed.
type Augmenter struct {
	opts AugmentOptions
	rng  *rand.Rand
}

func NewAugmenter(opts AugmentOptions, seed int64) *Augmenter {
	return &Augmenter{opts: opts, rng: rand.New(rand.NewSource(seed))} //nolint:gosec
}

// Variants returns n independently augmented copies of img.
func (a *Augmenter) Variants(img *image.RGBA, n int) []*image.RGBA {
	out := make([]*image.RGBA, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, a.Augment(img))
	}
	return out
}

// Augment applies each transform independently with its configured probability. The
// geometric ones are folded into a single affine warp. img is not modified.
func (a *Augmenter) Augment(img *image.RGBA) *image.RGBA {
	g := Geometry{Scale: 1}
	g.Flip = a.rng.Float64() < a.opts.FlipProb
	if a.rng.Float64() < a.opts.RotateProb {
		g.AngleDeg = (a.rng.Float64()*2 - 1) * a.opts.MaxRotateDeg
	}
	brightness := 1.0
	if a.rng.Float64() < a.opts.BrightnessProb {
		brightness = a.opts.BrightnessMin + a.rng.Float64()*(a.opts.BrightnessMax-a.opts.BrightnessMin)
	}
	if a.rng.Float64() < a.opts.ZoomProb {
		g.Scale = a.opts.ZoomMin + a.rng.Float64()*(a.opts.ZoomMax-a.opts.ZoomMin)
	}

	out := Warp(img, g)
	if brightness != 1 {
		ScaleBrightness(out, brightness)
	}
	if a.rng.Float64() < a.opts.NoiseProb {
		a.addNoise(out)
	}
	return out
}

func (a *Augmenter) addNoise(img *image.RGBA) {
	sigma := a.opts.NoiseSigma * 255
	forEachRGB(img, func(v uint8) uint8 {
		return clamp8(float64(v) + a.rng.NormFloat64()*sigma)
	})
}

// Geometry is a mirror, rotation and zoom about the image center.
type Geometry struct {
	Flip     bool
	AngleDeg float64
	Scale    float64
}

// Matrix maps a point of a src-sized image into a dst-sized one.
func (g Geometry) Matrix(src, dst image.Point) f64.Aff3 {
	rad := g.AngleDeg * math.Pi / 180
	cos, sin := math.Cos(rad)*g.Scale, math.Sin(rad)*g.Scale
	fx := 1.0
	if g.Flip {
		fx = -1
	}
	a, b := cos*fx, -sin
	d, e := sin*fx, cos
	csx, csy := float64(src.X)/2, float64(src.Y)/2
	cdx, cdy := float64(dst.X)/2, float64(dst.Y)/2
	return f64.Aff3{
		a, b, cdx - (a*csx + b*csy),
		d, e, cdy - (d*csx + e*csy),
	}
}

// Warp resamples img through g with bilinear filtering. Points that land outside the
// photo take the nearest edge color.
func Warp(img *image.RGBA, g Geometry) *image.RGBA {
	size := img.Bounds().Size()
	if g.Scale == 0 {
		g.Scale = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	if !g.Flip && g.AngleDeg == 0 && g.Scale == 1 {
		draw.Draw(dst, dst.Rect, img, img.Bounds().Min, draw.Src)
		return dst
	}
	padded := padEdges(img, max(size.X, size.Y)/2)
	draw.BiLinear.Transform(dst, g.Matrix(padded.Bounds().Size(), size), padded, padded.Bounds(), draw.Src, nil)
	return dst
}

// padEdges surrounds img with p pixels replicating its border rows and columns.
func padEdges(img *image.RGBA, p int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w+2*p, h+2*p))
	nn := draw.NearestNeighbor

	// stretch every 1-pixel strip and corner outwards, then lay the photo in the middle
	xs := [3][2]int{{0, p}, {p, p + w}, {p + w, w + 2*p}}
	ys := [3][2]int{{0, p}, {p, p + h}, {p + h, h + 2*p}}
	srcX := [3][2]int{{b.Min.X, b.Min.X + 1}, {b.Min.X, b.Max.X}, {b.Max.X - 1, b.Max.X}}
	srcY := [3][2]int{{b.Min.Y, b.Min.Y + 1}, {b.Min.Y, b.Max.Y}, {b.Max.Y - 1, b.Max.Y}}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == 1 && j == 1 {
				continue
			}
			dr := image.Rect(xs[j][0], ys[i][0], xs[j][1], ys[i][1])
			sr := image.Rect(srcX[j][0], srcY[i][0], srcX[j][1], srcY[i][1])
			nn.Scale(out, dr, img, sr, draw.Src, nil)
		}
	}
	draw.Draw(out, image.Rect(p, p, p+w, p+h), img, b.Min, draw.Src)
	return out
}

// ScaleBrightness multiplies the RGB channels of img in place, saturating at 255.
func ScaleBrightness(img *image.RGBA, f float64) {
	forEachRGB(img, func(v uint8) uint8 {
		return clamp8(float64(v) * f)
	})
}

func forEachRGB(img *image.RGBA, fn func(uint8) uint8) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			row[i] = fn(row[i])
			row[i+1] = fn(row[i+1])
			row[i+2] = fn(row[i+2])
		}
	}
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
