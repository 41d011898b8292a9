package imaging

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/testutils"
)

func TestValidateImage(t *testing.T) {
	dir := t.TempDir()

	t.Run("sharp checkerboard is valid", func(t *testing.T) {
		path := testutils.WritePNG(t, dir, "red.png", testutils.RedBoard(0).Image())
		report := ValidateImage(path)
		assert.True(t, report.Valid, report.Reason)
		assert.GreaterOrEqual(t, report.Quality, QualityValidMin)
		assert.LessOrEqual(t, report.Quality, 1.0)
		assert.Equal(t, "224x224", report.Metrics.Resolution)
		assert.Greater(t, report.Metrics.Sharpness, 100.0)
		assert.Greater(t, report.Metrics.Contrast, 25.0)
	})

	t.Run("flat image is rejected", func(t *testing.T) {
		path := testutils.WritePNG(t, dir, "flat.png", testutils.UniformImage(300, color.RGBA{R: 128, G: 128, B: 128, A: 255}))
		report := ValidateImage(path)
		assert.False(t, report.Valid)
		// 0.1 sharpness + 0.3 brightness + 0.1 contrast
		assert.InDelta(t, 0.5, report.Quality, 1e-9)
		assert.Contains(t, report.Reason, "blurry")
	})

	t.Run("small image is rejected", func(t *testing.T) {
		board := testutils.RedBoard(0)
		board.Size = 100
		path := testutils.WritePNG(t, dir, "small.png", board.Image())
		report := ValidateImage(path)
		assert.False(t, report.Valid)
		assert.Equal(t, 0.0, report.Quality)
		assert.Contains(t, report.Reason, "below minimum")
	})

	t.Run("large image gets bonus", func(t *testing.T) {
		board := testutils.BlueBoard(0)
		board.Size = 640
		report := Assess(board.Image(), QualityValidMin)
		assert.True(t, report.Valid)
		assert.Equal(t, 1.0, report.Quality)
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.jpg")
		require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o600))
		report := ValidateImage(path)
		assert.False(t, report.Valid)
		assert.Contains(t, report.Reason, "unreadable")
	})
}

func TestDecode(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = Decode([]byte("garbage"))
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, testutils.RedBoard(0).Image(), "image/png"))
	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 224, img.Bounds().Dx())
}

func TestTensorConversion(t *testing.T) {
	img := testutils.UniformImage(50, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	tensor := FromImage(img, 32)
	assert.Equal(t, 32, tensor.H)
	assert.Equal(t, 32, tensor.W)
	assert.Equal(t, 3, tensor.C)
	assert.InDelta(t, 1.0, tensor.At(5, 5, 0), 1e-6)
	assert.InDelta(t, 0.0, tensor.At(5, 5, 1), 1e-6)
	assert.InDelta(t, 0.2, tensor.At(5, 5, 2), 1e-6)

	norm := Normalize(tensor)
	assert.InDelta(t, 1.0, norm.At(0, 0, 0), 1e-6)
	assert.InDelta(t, -1.0, norm.At(0, 0, 1), 1e-6)

	back := tensor.ToRGBA()
	assert.Equal(t, color.RGBA{R: 255, G: 0, B: 51, A: 255}, back.RGBAAt(3, 3))
}

func TestHSVHistogram(t *testing.T) {
	red := HSVHistogram(Resize(testutils.RedBoard(0).Image(), 224, 224))
	blue := HSVHistogram(Resize(testutils.BlueBoard(0).Image(), 224, 224))
	require.Len(t, red, HistogramSize)

	t.Run("min-max normalized", func(t *testing.T) {
		var mx float64
		for _, v := range red {
			assert.GreaterOrEqual(t, v, 0.0)
			mx = math.Max(mx, v)
		}
		assert.Equal(t, 1.0, mx)
	})

	t.Run("self similarity is maximal", func(t *testing.T) {
		s := CompareToReferences(red, []Histogram{red})
		assert.InDelta(t, 1.0, s.Correlation, 1e-9)
		assert.InDelta(t, 1.0, s.ChiSquare, 1e-9)
		assert.InDelta(t, 1.0, s.Intersection, 1e-9)
		assert.InDelta(t, 1.0, s.Combined, 1e-9)
	})

	t.Run("different colors are dissimilar", func(t *testing.T) {
		s := CompareToReferences(blue, []Histogram{red})
		assert.Less(t, s.Combined, 0.3)
		assert.GreaterOrEqual(t, s.Correlation, 0.0)
		assert.GreaterOrEqual(t, s.Intersection, 0.0)
	})

	t.Run("best reference wins per metric", func(t *testing.T) {
		s := CompareToReferences(blue, []Histogram{red, blue})
		assert.InDelta(t, 1.0, s.Combined, 1e-9)
	})

	t.Run("no references", func(t *testing.T) {
		assert.Equal(t, Similarity{}, CompareToReferences(red, nil))
	})
}

func TestHueSaturation(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		hue     float64
		sat     float64
	}{
		{"red", 255, 0, 0, 0, 255},
		{"green", 0, 255, 0, 60, 255},
		{"blue", 0, 0, 255, 120, 255},
		{"gray", 128, 128, 128, 0, 0},
		{"black", 0, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, s := hueSaturation(tt.r, tt.g, tt.b)
			assert.InDelta(t, tt.hue, h, 1e-9)
			assert.InDelta(t, tt.sat, s, 1e-9)
		})
	}
}

func TestMinMaxNormalize(t *testing.T) {
	// 49 * (1/49) rounds below 1, dividing does not
	h := Histogram{0, 12, 49}.minMaxNormalize()
	assert.Equal(t, 0.0, h[0])
	assert.Equal(t, 12.0/49, h[1])
	assert.Equal(t, 1.0, h[2])

	flat := Histogram{3, 3, 3}.minMaxNormalize()
	assert.Equal(t, Histogram{0, 0, 0}, flat)
}

func TestCorrelationOfConstantHistograms(t *testing.T) {
	a := make(Histogram, 10)
	b := make(Histogram, 10)
	assert.Equal(t, 1.0, Correlation(a, b))
	assert.Equal(t, 0.0, Intersection(a, b))
}

func TestAugmenter(t *testing.T) {
	base := testutils.RedBoard(0).Image()

	t.Run("deterministic for a seed", func(t *testing.T) {
		a := NewAugmenter(DefaultAugmentOptions(), 7).Variants(base, 4)
		b := NewAugmenter(DefaultAugmentOptions(), 7).Variants(base, 4)
		require.Len(t, a, 4)
		for i := range a {
			assert.Equal(t, a[i].Pix, b[i].Pix)
		}
	})

	t.Run("size kept and source untouched", func(t *testing.T) {
		orig := append([]uint8(nil), base.Pix...)
		for _, v := range NewAugmenter(DefaultAugmentOptions(), 1).Variants(base, 8) {
			assert.Equal(t, base.Bounds(), v.Bounds())
			for i := 3; i < len(v.Pix); i += 4 {
				require.Equal(t, uint8(255), v.Pix[i], "transparent pixel at %d", i/4)
			}
		}
		assert.Equal(t, orig, base.Pix)
	})
}

func TestWarp(t *testing.T) {
	// left half red, right half blue
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			if x < 4 {
				img.SetRGBA(x, y, red)
			} else {
				img.SetRGBA(x, y, blue)
			}
		}
	}

	t.Run("identity", func(t *testing.T) {
		assert.Equal(t, img.Pix, Warp(img, Geometry{Scale: 1}).Pix)
	})

	t.Run("flip mirrors columns", func(t *testing.T) {
		out := Warp(img, Geometry{Flip: true, Scale: 1})
		assert.Equal(t, blue, out.RGBAAt(0, 0))
		assert.Equal(t, blue, out.RGBAAt(3, 3))
		assert.Equal(t, red, out.RGBAAt(4, 0))
		assert.Equal(t, red, out.RGBAAt(7, 3))
	})

	t.Run("half turn", func(t *testing.T) {
		out := Warp(img, Geometry{AngleDeg: 180, Scale: 1})
		assert.Equal(t, blue, out.RGBAAt(1, 1))
		assert.Equal(t, red, out.RGBAAt(6, 2))
	})

	t.Run("zoom out fills from the edges", func(t *testing.T) {
		out := Warp(img, Geometry{Scale: 0.5})
		assert.Equal(t, red, out.RGBAAt(0, 0))
		assert.Equal(t, blue, out.RGBAAt(7, 3))
		for i := 3; i < len(out.Pix); i += 4 {
			assert.Equal(t, uint8(255), out.Pix[i])
		}
	})

	t.Run("matrix maps centers onto centers", func(t *testing.T) {
		m := Geometry{AngleDeg: 30, Scale: 1.1}.Matrix(image.Pt(20, 10), image.Pt(8, 4))
		x := m[0]*10 + m[1]*5 + m[2]
		y := m[3]*10 + m[4]*5 + m[5]
		assert.InDelta(t, 4, x, 1e-9)
		assert.InDelta(t, 2, y, 1e-9)
	})
}

func TestScaleBrightness(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 100, G: 200, B: 0, A: 255})
	ScaleBrightness(img, 1.2)
	assert.Equal(t, color.RGBA{R: 120, G: 240, B: 0, A: 255}, img.RGBAAt(0, 0))
	ScaleBrightness(img, 1.2)
	assert.Equal(t, color.RGBA{R: 144, G: 255, B: 0, A: 255}, img.RGBAAt(0, 0))
}

func TestResize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	out := Resize(img, 224, 224)
	assert.Equal(t, image.Rect(0, 0, 224, 224), out.Bounds())
}
