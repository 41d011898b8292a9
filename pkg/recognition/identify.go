package recognition

import (
	"context"
	"image"
	"sort"
	"time"

	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/imaging"
	"github.com/labmanager/labml/pkg/models"
)

const DefaultTopN = 3

// Source is an image given either as a file path or as encoded bytes.
type Source struct {
	Path string
	Data []byte
}

func FromPath(path string) Source {
	return Source{Path: path}
}

func FromBytes(data []byte) Source {
	return Source{Data: data}
}

func (s Source) decode() (image.Image, error) {
	if s.Data != nil {
		return imaging.Decode(s.Data)
	}
	if s.Path == "" {
		return nil, models.NewInvalidInputError("no image given")
	}
	return imaging.Load(s.Path)
}

// Candidate is one ranked guess.
type Candidate struct {
	Code              string  `json:"code"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	Confidence        float64 `json:"confidence"`
	ConfidencePercent float64 `json:"confidence_percent"`
	Accepted          bool    `json:"accepted"`
	RawConfidence     float64 `json:"raw_confidence"`
}

// Identification is the result of Identify.
type Identification struct {
	Candidates []Candidate `json:"candidates"`
	ElapsedMs  float64     `json:"elapsed_ms"`
	// Penalty is the out-of-distribution factor applied to every raw confidence.
	Penalty float64 `json:"similarity_penalty"`
}

// Identify ranks the trained classes for an image. When no model is loaded or the image
// cannot be decoded it returns an empty identification with zero elapsed time together
// with an Unavailable or InvalidInput error.
func (r *Recognizer) Identify(ctx context.Context, src Source, topN int) (Identification, error) {
	empty := Identification{Candidates: []Candidate{}}
	if topN < 1 {
		return empty, models.NewInvalidInputError("top_n must be at least 1")
	}
	m := r.model.Load()
	if m == nil {
		return empty, models.NewUnavailableError("recognition", "no trained model, train first")
	}
	if err := ctx.Err(); err != nil {
		return empty, err
	}

	start := time.Now()
	img, err := src.decode()
	if err != nil {
		return empty, err
	}
	rgba := imaging.Resize(img, r.cfg.ImageSize, r.cfg.ImageSize)
	features := r.backbone.Extract(imaging.Normalize(imaging.FromRGBA(rgba)))
	probs := m.head.PredictOne(m.scaler.Transform(features))

	penalty := 1.0
	if m.numClasses() <= r.cfg.OODMaxClasses {
		sim := imaging.CompareToReferences(imaging.HSVHistogram(rgba), m.references)
		penalty = SimilarityPenalty(sim.Combined)
		log.Debugf("ood check: corr=%.3f chi=%.3f inter=%.3f combined=%.3f penalty=%.2f",
			sim.Correlation, sim.ChiSquare, sim.Intersection, sim.Combined, penalty)
	}

	candidates := rank(m, probs, penalty, m.threshold(r.cfg.ConfidenceThreshold), topN)
	elapsed := time.Since(start)

	r.telemetry.TotalInferences.Inc(1)
	r.telemetry.InferenceTime.Update(elapsed)
	if len(candidates) > 0 && candidates[0].Accepted {
		r.telemetry.AcceptedInferences.Inc(1)
	}

	return Identification{
		Candidates: candidates,
		ElapsedMs:  internal.Round(float64(elapsed.Microseconds())/1000, 2),
		Penalty:    penalty,
	}, nil
}

// rank returns the topN classes by raw probability with the penalty applied.
func rank(m *model, probs []float64, penalty, threshold float64, topN int) []Candidate {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })
	if topN > len(idx) {
		topN = len(idx)
	}

	out := make([]Candidate, 0, topN)
	for _, i := range idx[:topN] {
		raw := internal.Clamp(probs[i], 0, 1)
		conf := internal.Clamp(raw*penalty, 0, 1)
		c := m.classes[i]
		out = append(out, Candidate{
			Code:              c.Code,
			Name:              c.Name,
			Category:          c.Category,
			Confidence:        conf,
			ConfidencePercent: internal.Round(conf*100, 2),
			Accepted:          conf >= threshold,
			RawConfidence:     raw,
		})
	}
	return out
}

// SimilarityPenalty maps a combined histogram similarity onto a confidence multiplier
// in [0.1, 1].
func SimilarityPenalty(combined float64) float64 {
	switch {
	case combined < 0.3:
		return 0.1
	case combined < 0.5:
		return 0.3
	case combined < 0.7:
		return 0.6
	default:
		return internal.Clamp(combined, 0.1, 1)
	}
}
