package imaging

import (
	"image"
	"math"

	"github.com/viterin/vek"
)

const (
	HueBins        = 50
	SaturationBins = 60
	HistogramSize  = HueBins * SaturationBins

	hueRange        = 180.0
	saturationRange = 256.0
)

// Histogram is a flattened hue×saturation histogram (hue-major), min-max normalized.
type Histogram []float64

// HSVHistogram computes the normalized 50×60 hue/saturation histogram of img using the
// 8-bit HSV convention: hue in [0,180), saturation in [0,256).
func HSVHistogram(img *image.RGBA) Histogram {
	h := make(Histogram, HistogramSize)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			hue, sat := hueSaturation(row[x*4], row[x*4+1], row[x*4+2])
			hb := int(hue * HueBins / hueRange)
			sb := int(sat * SaturationBins / saturationRange)
			if hb >= HueBins {
				hb = HueBins - 1
			}
			if sb >= SaturationBins {
				sb = SaturationBins - 1
			}
			h[hb*SaturationBins+sb]++
		}
	}
	return h.minMaxNormalize()
}

// hueSaturation returns hue in [0,180) and saturation in [0,255].
func hueSaturation(r8, g8, b8 uint8) (float64, float64) {
	r, g, b := float64(r8), float64(g8), float64(b8)
	v := math.Max(r, math.Max(g, b))
	mn := math.Min(r, math.Min(g, b))
	diff := v - mn
	if v == 0 || diff == 0 {
		return 0, 0
	}
	s := diff / v * 255
	var hue float64
	switch v {
	case r:
		hue = 60 * (g - b) / diff
	case g:
		hue = 120 + 60*(b-r)/diff
	default:
		hue = 240 + 60*(r-g)/diff
	}
	if hue < 0 {
		hue += 360
	}
	hue /= 2
	if hue >= hueRange {
		hue -= hueRange
	}
	return hue, s
}

func (h Histogram) minMaxNormalize() Histogram {
	mn, mx := vek.Min(h), vek.Max(h)
	if mx-mn == 0 {
		for i := range h {
			h[i] = 0
		}
		return h
	}
	span := mx - mn
	for i, v := range h {
		h[i] = (v - mn) / span
	}
	return h
}

// Correlation is the Pearson correlation of two histograms; 1 when both are constant.
func Correlation(a, b Histogram) float64 {
	n := float64(len(a))
	ma := vek.Sum(a) / n
	mb := vek.Sum(b) / n
	da := vek.SubNumber(a, ma)
	db := vek.SubNumber(b, mb)
	num := vek.Dot(da, db)
	den := vek.Dot(da, da) * vek.Dot(db, db)
	if math.Abs(den) <= math.SmallestNonzeroFloat64 {
		return 1
	}
	return num / math.Sqrt(den)
}

// ChiSquare is Σ (a-b)²/a over bins where the query histogram a is non-zero.
func ChiSquare(a, b Histogram) float64 {
	var chi float64
	for i, av := range a {
		if math.Abs(av) > 1e-12 {
			d := av - b[i]
			chi += d * d / av
		}
	}
	return chi
}

// Intersection is Σ min(a,b) normalized by the mass of the query histogram a, in [0,1].
func Intersection(a, b Histogram) float64 {
	mass := vek.Sum(a)
	if mass == 0 {
		return 0
	}
	inter := vek.Sum(vek.Minimum(a, b)) / mass
	return math.Max(0, math.Min(1, inter))
}

// Similarity is the best per-metric match of a query against reference histograms.
type Similarity struct {
	Correlation  float64 `json:"correlation"`
	ChiSquare    float64 `json:"chi_square_similarity"`
	Intersection float64 `json:"intersection"`
	Combined     float64 `json:"combined"`
}

// CompareToReferences takes, independently for each metric, the best value over all
// references and combines them as 0.5·corr + 0.3·1/(1+chi) + 0.2·intersection.
func CompareToReferences(query Histogram, references []Histogram) Similarity {
	var s Similarity
	if len(references) == 0 {
		return s
	}
	s.Correlation = math.Inf(-1)
	for _, ref := range references {
		if len(ref) != len(query) {
			continue
		}
		s.Correlation = math.Max(s.Correlation, Correlation(query, ref))
		s.ChiSquare = math.Max(s.ChiSquare, 1/(1+ChiSquare(query, ref)))
		s.Intersection = math.Max(s.Intersection, Intersection(query, ref))
	}
	if math.IsInf(s.Correlation, -1) || math.IsNaN(s.Correlation) {
		s.Correlation = 0
	}
	s.Correlation = math.Max(0, s.Correlation)
	s.Combined = 0.5*s.Correlation + 0.3*s.ChiSquare + 0.2*s.Intersection
	return s
}
