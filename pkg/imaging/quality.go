package imaging

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	MinResolution   = 224
	BonusResolution = 640
	QualityValidMin = 0.6
)

// QualityMetrics are the raw measurements behind a QualityReport.
type QualityMetrics struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Resolution string  `json:"resolution"`
	Sharpness  float64 `json:"sharpness"`
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
}

// QualityReport is the result of ValidateImage.
type QualityReport struct {
	Valid   bool           `json:"valid"`
	Quality float64        `json:"quality"`
	Reason  string         `json:"reason"`
	Metrics QualityMetrics `json:"metrics"`
}

// ValidateImage loads the image at path and assesses whether it is fit for training.
func ValidateImage(path string) QualityReport {
	img, err := Load(path)
	if err != nil {
		return QualityReport{Reason: fmt.Sprintf("unreadable image: %v", err)}
	}
	return Assess(img, QualityValidMin)
}

// ValidateImageBytes is ValidateImage for an in-memory image.
func ValidateImageBytes(data []byte) QualityReport {
	img, err := Decode(data)
	if err != nil {
		return QualityReport{Reason: fmt.Sprintf("unreadable image: %v", err)}
	}
	return Assess(img, QualityValidMin)
}

// Assess scores sharpness (Laplacian variance), brightness (grayscale mean) and contrast
// (grayscale standard deviation). The score is the sum of the per-metric weights plus a
// bonus for large images, capped at 1.
func Assess(img image.Image, threshold float64) QualityReport {
	b := img.Bounds()
	m := QualityMetrics{
		Width:      b.Dx(),
		Height:     b.Dy(),
		Resolution: fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
	}
	if m.Width < MinResolution || m.Height < MinResolution {
		return QualityReport{
			Reason:  fmt.Sprintf("resolution %s below minimum %dx%d", m.Resolution, MinResolution, MinResolution),
			Metrics: m,
		}
	}

	gray := Grayscale(img)
	m.Brightness, m.Contrast = stat.PopMeanStdDev(gray.Pix, nil)
	m.Sharpness = LaplacianVariance(gray)

	quality := sharpnessWeight(m.Sharpness) + brightnessWeight(m.Brightness) + contrastWeight(m.Contrast)
	if m.Width >= BonusResolution && m.Height >= BonusResolution {
		quality += 0.1
	}
	quality = math.Min(1, math.Round(quality*1000)/1000)

	report := QualityReport{Quality: quality, Metrics: m, Valid: quality >= threshold}
	switch {
	case report.Valid:
		report.Reason = "ok"
	case m.Sharpness <= 50:
		report.Reason = fmt.Sprintf("image too blurry (sharpness %.1f)", m.Sharpness)
	case m.Contrast <= 25:
		report.Reason = fmt.Sprintf("image contrast too low (%.1f)", m.Contrast)
	default:
		report.Reason = fmt.Sprintf("image brightness out of range (%.1f)", m.Brightness)
	}
	return report
}

func sharpnessWeight(v float64) float64 {
	switch {
	case v > 100:
		return 0.4
	case v > 50:
		return 0.25
	default:
		return 0.1
	}
}

func brightnessWeight(v float64) float64 {
	switch {
	case v > 50 && v < 200:
		return 0.3
	case v > 30 && v < 220:
		return 0.2
	default:
		return 0.1
	}
}

func contrastWeight(v float64) float64 {
	switch {
	case v > 40:
		return 0.3
	case v > 25:
		return 0.2
	default:
		return 0.1
	}
}

// GrayImage is a float64 grayscale raster.
type GrayImage struct {
	W, H int
	Pix  []float64
}

func (g GrayImage) at(x, y int) float64 {
	return g.Pix[y*g.W+x]
}

// Grayscale converts img with the ITU-R BT.601 luma weights on 8-bit channels.
func Grayscale(img image.Image) GrayImage {
	b := img.Bounds()
	g := GrayImage{W: b.Dx(), H: b.Dy(), Pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			r, gg, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			g.Pix[y*g.W+x] = 0.299*float64(r>>8) + 0.587*float64(gg>>8) + 0.114*float64(bb>>8)
		}
	}
	return g
}

// LaplacianVariance convolves with the 4-neighbour Laplacian kernel using reflected
// borders and returns the population variance of the response.
func LaplacianVariance(g GrayImage) float64 {
	if g.W < 3 || g.H < 3 {
		return 0
	}
	resp := make([]float64, len(g.Pix))
	for y := 0; y < g.H; y++ {
		up := reflect101(y-1, g.H)
		down := reflect101(y+1, g.H)
		for x := 0; x < g.W; x++ {
			left := reflect101(x-1, g.W)
			right := reflect101(x+1, g.W)
			resp[y*g.W+x] = g.at(x, up) + g.at(x, down) + g.at(left, y) + g.at(right, y) - 4*g.at(x, y)
		}
	}
	_, std := stat.PopMeanStdDev(resp, nil)
	return std * std
}

func reflect101(i, n int) int {
	if i < 0 {
		return -i
	}
	if i >= n {
		return 2*n - i - 2
	}
	return i
}
