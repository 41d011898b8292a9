package intent

import (
	"fmt"
	"sort"
	"time"

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/pkg/artifacts"
)

// Pipeline is the trained vectorizer plus classifier, persisted as one gob artifact.
type Pipeline struct {
	Format     string
	TrainedAt  time.Time
	Examples   int
	Vectorizer *Vectorizer
	Classifier *NaiveBayes
}

// Fit trains a pipeline on examples keyed by intent. Every declared intent must have at
// least one example.
func Fit(cfg config.IntentConfig, examples map[Intent][]string) (*Pipeline, error) {
	classes := Intents()
	var (
		docs   []string
		labels []Intent
	)
	for _, c := range classes {
		if len(examples[c]) == 0 {
			return nil, fmt.Errorf("intent %s has no training examples", c)
		}
		for _, ex := range examples[c] {
			docs = append(docs, Preprocess(ex))
			labels = append(labels, c)
		}
	}
	for c := range examples {
		if !c.Valid() || c == Unknown {
			return nil, fmt.Errorf("examples given for undeclared intent %q", c)
		}
	}

	vec := NewVectorizer(cfg.NgramMax, cfg.MaxFeatures)
	vec.Fit(docs)
	x := make([][]float64, len(docs))
	for i, d := range docs {
		x[i] = vec.Transform(d)
	}
	nb := NewNaiveBayes(cfg.Alpha)
	if err := nb.Fit(x, labels, classes); err != nil {
		return nil, err
	}
	return &Pipeline{
		Format:     artifacts.FormatVersion,
		TrainedAt:  time.Now().UTC(),
		Examples:   len(docs),
		Vectorizer: vec,
		Classifier: nb,
	}, nil
}

// Predict returns the most probable intent and its probability for preprocessed text.
func (p *Pipeline) Predict(text string) (Intent, float64) {
	probs := p.Classifier.PredictProba(p.Vectorizer.Transform(text))
	best := 0
	for i, v := range probs {
		if v > probs[best] {
			best = i
		}
	}
	return p.Classifier.Classes[best], probs[best]
}

// matchesTaxonomy reports whether the pipeline was trained on exactly the declared intents.
func (p *Pipeline) matchesTaxonomy() bool {
	if p.Classifier == nil || p.Vectorizer == nil {
		return false
	}
	have := append([]Intent(nil), p.Classifier.Classes...)
	sort.Slice(have, func(a, b int) bool { return have[a] < have[b] })
	want := Intents()
	if len(have) != len(want) {
		return false
	}
	for i := range want {
		if have[i] != want[i] {
			return false
		}
	}
	return true
}

func savePipeline(root artifacts.Root, p *Pipeline) error {
	return artifacts.WriteGobAtomic(root.Path(artifacts.IntentDir, artifacts.IntentModelFile), p)
}

func loadPipeline(root artifacts.Root) (*Pipeline, error) {
	var p Pipeline
	if err := artifacts.ReadGob(root.Path(artifacts.IntentDir, artifacts.IntentModelFile), &p); err != nil {
		return nil, err
	}
	if err := artifacts.CheckFormat(p.Format); err != nil {
		return nil, err
	}
	if !p.matchesTaxonomy() {
		return nil, fmt.Errorf("persisted intent model does not match the declared intents")
	}
	return &p, nil
}
