// Package recognition identifies pieces of lab equipment from photos. A frozen
// convolutional backbone produces features, a small dense head is trained per
// deployment, and a color-histogram check damps confidence on inputs that look
// nothing like the training photos.
package recognition

import (
	"errors"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/nn"
)

var log = internal.GetLogger()

// Telemetry counts inferences. The counters live in a go-metrics registry so they can
// be exported alongside other process metrics.
type Telemetry struct {
	TotalInferences    gometrics.Counter
	AcceptedInferences gometrics.Counter
	InferenceTime      gometrics.Timer
	CompletedTrainings gometrics.Counter
	FailedTrainings    gometrics.Counter
}

func NewTelemetry(registry gometrics.Registry) *Telemetry {
	t := &Telemetry{
		TotalInferences:    gometrics.NewCounter(),
		AcceptedInferences: gometrics.NewCounter(),
		InferenceTime:      gometrics.NewTimer(),
		CompletedTrainings: gometrics.NewCounter(),
		FailedTrainings:    gometrics.NewCounter(),
	}
	if registry != nil {
		for name, m := range map[string]any{
			"recognition.inferences.total":    t.TotalInferences,
			"recognition.inferences.accepted": t.AcceptedInferences,
			"recognition.inference.time":      t.InferenceTime,
			"recognition.trainings.completed": t.CompletedTrainings,
			"recognition.trainings.failed":    t.FailedTrainings,
		} {
			if err := registry.Register(name, m); err != nil {
				log.Warnf("failed to register metric %s: %v", name, err)
			}
		}
	}
	return t
}

// Recognizer owns the trained model. Identify and Status are safe for concurrent use;
// Train swaps the model in one step when it finishes.
type Recognizer struct {
	cfg       Config
	root      artifacts.Root
	backbone  nn.Backbone
	lock      *artifacts.TrainingLock
	images    models.TrainingImageStore
	telemetry *Telemetry

	model atomic.Pointer[model]
	// loadErr is the reason the last load failed, for Status.
	loadErr atomic.Pointer[string]
}

// Option customizes a Recognizer.
type Option func(*Recognizer)

// WithTrainingImageStore enables status updates of source training images.
func WithTrainingImageStore(s models.TrainingImageStore) Option {
	return func(r *Recognizer) { r.images = s }
}

func WithBackbone(b nn.Backbone) Option {
	return func(r *Recognizer) { r.backbone = b }
}

func WithMetricsRegistry(registry gometrics.Registry) Option {
	return func(r *Recognizer) { r.telemetry = NewTelemetry(registry) }
}

// New builds the recognizer and tries to load a persisted model. A missing model is not
// an error: the recognizer starts unloaded and waits for Train.
func New(cfg Config, root artifacts.Root, opts ...Option) (*Recognizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, models.NewInvalidInputError(err.Error())
	}
	r := &Recognizer{
		cfg:  cfg,
		root: root,
		lock: artifacts.NewTrainingLock(root, artifacts.RecognitionDir),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.telemetry == nil {
		r.telemetry = NewTelemetry(nil)
	}
	if r.backbone == nil {
		b, err := nn.NewBackbone(cfg.BackboneWeights, cfg.ImageSize, cfg.Seed)
		if err != nil {
			return nil, models.NewUnavailableError("recognition", err.Error())
		}
		r.backbone = b
	}
	if err := r.Load(); err != nil && !errors.Is(err, models.ErrUnavailable) {
		return nil, err
	}
	return r, nil
}

// Load re-reads the persisted artifacts. On failure the current in-memory model is kept.
func (r *Recognizer) Load() error {
	m, err := loadModel(r.root, r.backbone)
	if err != nil {
		reason := err.Error()
		r.loadErr.Store(&reason)
		log.Infof("recognition model not loaded: %v", err)
		return err
	}
	r.loadErr.Store(nil)
	r.model.Store(m)
	log.Infof("recognition model loaded: %d classes, trained %s", m.numClasses(), m.config.TrainedAt.Format(time.RFC3339))
	return nil
}

// Status is the readiness record of the recognizer.
type Status struct {
	ModelLoaded         bool       `json:"model_loaded"`
	NumClasses          int        `json:"num_classes"`
	ConfidenceThreshold float64    `json:"confidence_threshold"`
	TrainedAt           *time.Time `json:"trained_at,omitempty"`
	Backbone            string     `json:"backbone"`
	TotalInferences     int64      `json:"total_inferences"`
	AcceptedInferences  int64      `json:"accepted_inferences"`
	AcceptanceRate      float64    `json:"acceptance_rate"`
	MeanInferenceMs     float64    `json:"mean_inference_ms"`
	Reason              string     `json:"reason,omitempty"`
}

func (r *Recognizer) Status() Status {
	s := Status{
		ConfidenceThreshold: r.cfg.ConfidenceThreshold,
		Backbone:            r.backbone.Name(),
		TotalInferences:     r.telemetry.TotalInferences.Count(),
		AcceptedInferences:  r.telemetry.AcceptedInferences.Count(),
		MeanInferenceMs:     internal.Round(r.telemetry.InferenceTime.Mean()/float64(time.Millisecond), 2),
	}
	if s.TotalInferences > 0 {
		s.AcceptanceRate = internal.Round(float64(s.AcceptedInferences)/float64(s.TotalInferences), 4)
	}
	if m := r.model.Load(); m != nil {
		s.ModelLoaded = true
		s.NumClasses = m.numClasses()
		s.ConfidenceThreshold = m.threshold(r.cfg.ConfidenceThreshold)
		trained := m.config.TrainedAt
		s.TrainedAt = &trained
	} else if reason := r.loadErr.Load(); reason != nil {
		s.Reason = *reason
	}
	return s
}

// Ready reports whether a model is loaded.
func (r *Recognizer) Ready() bool {
	return r.model.Load() != nil
}
