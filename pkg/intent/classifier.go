// Package intent maps assistant utterances to a fixed set of intents with a TF-IDF and
// multinomial Naive Bayes pipeline, extracts a few entities and dispatches actions.
package intent

import (
	"strings"
	"sync"
	"sync/atomic"

	"dario.cat/mergo"

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/artifacts"
)

var log = internal.GetLogger()

// Result is the answer to one utterance.
type Result struct {
	Intent     Intent   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Response   string   `json:"response"`
	Action     Action   `json:"action,omitempty"`
	Entities   Entities `json:"entities"`
}

// Status is the readiness record of the classifier.
type Status struct {
	LibraryAvailable bool `json:"library_available"`
	ModelLoaded      bool `json:"model_loaded"`
	IntentsCount     int  `json:"intents_count"`
	Ready            bool `json:"ready"`
}

// Classifier answers utterances from an in-memory pipeline that Retrain swaps atomically.
type Classifier struct {
	cfg  config.IntentConfig
	root artifacts.Root

	pipeline atomic.Pointer[Pipeline]

	// mu serializes retraining and guards extra.
	mu    sync.Mutex
	extra map[Intent][]string
}

// New loads the persisted pipeline, training and persisting one from the built-in
// examples when none exists. Failures leave the classifier degraded rather than
// returning an error: every utterance then classifies as Unknown.
func New(cfg config.IntentConfig, root artifacts.Root) *Classifier {
	c := &Classifier{cfg: cfg, root: root, extra: map[Intent][]string{}}

	p, err := loadPipeline(root)
	if err == nil {
		c.pipeline.Store(p)
		log.Infof("intent model loaded (%d examples, trained %s)", p.Examples, p.TrainedAt.Format("2006-01-02"))
		return c
	}
	log.Infof("intent model not loaded, training from built-in examples: %v", err)
	if !c.Retrain(nil) {
		log.Warn("intent classifier is degraded, all utterances will be unknown")
	}
	return c
}

func (c *Classifier) Status() Status {
	loaded := c.pipeline.Load() != nil
	return Status{
		LibraryAvailable: true,
		ModelLoaded:      loaded,
		IntentsCount:     len(definitions),
		Ready:            loaded,
	}
}

// Classify returns the intent, confidence and canned response for text. Blank input and
// predictions below the confidence threshold yield Unknown.
func (c *Classifier) Classify(text string) Result {
	unknown := Result{Intent: Unknown, Response: unknownResponse}
	clean := Preprocess(text)
	if strings.TrimSpace(clean) == "" {
		return unknown
	}
	p := c.pipeline.Load()
	if p == nil {
		return unknown
	}
	intent, prob := p.Predict(clean)
	if prob < c.cfg.ConfidenceThreshold {
		unknown.Confidence = internal.Clamp(1-prob, 0, 1)
		return unknown
	}
	return Result{Intent: intent, Confidence: internal.Clamp(prob, 0, 1), Response: intent.Response()}
}

// Handle classifies text, extracts entities for the intent and attaches the dispatched
// action. DBQuery actions carry the entities as parameters.
func (c *Classifier) Handle(text string) Result {
	r := c.Classify(text)
	if r.Intent == Unknown {
		return r
	}
	r.Entities = ExtractEntities(text, r.Intent)
	if action := Dispatch(r.Intent); action != nil {
		r.Action = withEntities(action, r.Entities)
	}
	return r
}

// Retrain fits a fresh pipeline on the built-in examples plus every example added so
// far and the given additions, persists it and swaps it in. On any failure the current
// pipeline stays in place and Retrain returns false.
func (c *Classifier) Retrain(additional map[Intent][]string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	extra := map[Intent][]string{}
	for k, v := range c.extra {
		extra[k] = append([]string(nil), v...)
	}
	for k, v := range additional {
		if k == Unknown || !k.Valid() {
			log.Warnf("ignoring %d examples for undeclared intent %q", len(v), k)
			continue
		}
		if err := mergo.Merge(&extra, map[Intent][]string{k: v}, mergo.WithAppendSlice); err != nil {
			log.Errorf("failed to merge examples for %s: %v", k, err)
			return false
		}
	}

	examples := trainingExamples()
	if err := mergo.Merge(&examples, extra, mergo.WithAppendSlice); err != nil {
		log.Errorf("failed to merge training examples: %v", err)
		return false
	}

	p, err := Fit(c.cfg, examples)
	if err != nil {
		log.Errorf("intent training failed: %v", err)
		return false
	}
	if err := savePipeline(c.root, p); err != nil {
		log.Errorf("failed to persist intent model: %v", err)
		return false
	}
	c.extra = extra
	c.pipeline.Store(p)
	log.Infof("intent model trained on %d examples across %d intents", p.Examples, len(p.Classifier.Classes))
	return true
}
