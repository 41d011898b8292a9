// Package maintenance estimates equipment failure probability with a random forest over
// ten engineered features and turns high-risk estimates into maintenance alerts.
package maintenance

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/models"
)

var log = internal.GetLogger()

// Telemetry counts predictions and how many fell back to the physical-state heuristic.
type Telemetry struct {
	Predictions gometrics.Counter
	Fallbacks   gometrics.Counter
	Alerts      gometrics.Counter
}

func NewTelemetry(registry gometrics.Registry) *Telemetry {
	t := &Telemetry{
		Predictions: gometrics.NewCounter(),
		Fallbacks:   gometrics.NewCounter(),
		Alerts:      gometrics.NewCounter(),
	}
	if registry != nil {
		for name, m := range map[string]any{
			"maintenance.predictions.total":    t.Predictions,
			"maintenance.predictions.fallback": t.Fallbacks,
			"maintenance.alerts.created":       t.Alerts,
		} {
			if err := registry.Register(name, m); err != nil {
				log.Warnf("failed to register metric %s: %v", name, err)
			}
		}
	}
	return t
}

// Engine trains, serves and applies the failure predictor.
type Engine struct {
	cfg       config.MaintenanceConfig
	root      artifacts.Root
	source    models.MaintenanceDataSource
	alerts    models.AlertSink
	lock      *artifacts.TrainingLock
	telemetry *Telemetry
	now       func() time.Time

	model atomic.Pointer[predictor]
	// loadMu serializes reloads from disk.
	loadMu sync.Mutex
}

type Option func(*Engine)

// WithClock overrides the time source used for feature ages and alert deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetricsRegistry(registry gometrics.Registry) Option {
	return func(e *Engine) { e.telemetry = NewTelemetry(registry) }
}

// New returns an engine reading equipment from source and writing alerts to sink. The
// persisted model is loaded lazily on first use.
func New(cfg config.MaintenanceConfig, root artifacts.Root, source models.MaintenanceDataSource, sink models.AlertSink, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		root:   root,
		source: source,
		alerts: sink,
		lock:   artifacts.NewTrainingLock(root, artifacts.MaintenanceDir),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.telemetry == nil {
		e.telemetry = NewTelemetry(nil)
	}
	return e
}

// current returns the predictor matching the artifacts on disk, or nil when there is
// none. A model file that disappeared drops the in-memory model; a newer one replaces it.
func (e *Engine) current() *predictor {
	path := e.root.Path(artifacts.MaintenanceDir, artifacts.MaintenanceModelFile)
	info, err := os.Stat(path)
	if err != nil {
		if e.model.Swap(nil) != nil {
			log.Warnf("maintenance model %s is gone, using the physical-state heuristic", path)
		}
		return nil
	}
	if p := e.model.Load(); p != nil && p.modTime.Equal(info.ModTime()) {
		return p
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if p := e.model.Load(); p != nil && p.modTime.Equal(info.ModTime()) {
		return p
	}
	p, err := loadPredictor(e.root)
	if err != nil {
		if !errors.Is(err, models.ErrUnavailable) {
			log.Errorf("failed to load maintenance model: %v", err)
		}
		e.model.Store(nil)
		return nil
	}
	e.model.Store(p)
	log.Infof("maintenance model loaded (run %s, trained %s)", p.meta.RunID, p.meta.TrainedAt.Format(time.RFC3339))
	return p
}

// Status is the readiness record of the engine.
type Status struct {
	ModelLoaded  bool       `json:"model_loaded"`
	SingleClass  bool       `json:"single_class"`
	TrainedAt    *time.Time `json:"trained_at,omitempty"`
	Features     []string   `json:"features"`
	TestAccuracy float64    `json:"test_accuracy,omitempty"`
	CVAccuracy   float64    `json:"cv_accuracy,omitempty"`
	Predictions  int64      `json:"predictions"`
	Fallbacks    int64      `json:"fallbacks"`
}

func (e *Engine) Status() Status {
	s := Status{
		Features:    FeatureNames,
		Predictions: e.telemetry.Predictions.Count(),
		Fallbacks:   e.telemetry.Fallbacks.Count(),
	}
	if p := e.current(); p != nil {
		s.ModelLoaded = true
		s.SingleClass = p.singleClass()
		trained := p.meta.TrainedAt
		s.TrainedAt = &trained
		s.TestAccuracy = p.meta.TestAccuracy
		s.CVAccuracy = p.meta.CVAccuracy
	}
	return s
}

// PredictFailure returns the probability that the equipment will need corrective
// maintenance, or nil when it does not exist.
func (e *Engine) PredictFailure(ctx context.Context, equipmentID int64) (*float64, error) {
	h, err := e.source.EquipmentHistoryByID(ctx, equipmentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	p, _ := e.predict(*h)
	return &p, nil
}

// predict scores one equipment. The second result is false when the heuristic was used.
func (e *Engine) predict(h models.EquipmentHistory) (float64, bool) {
	e.telemetry.Predictions.Inc(1)
	fallback := HeuristicProbability(h.PhysicalState)

	m := e.current()
	if m == nil {
		e.telemetry.Fallbacks.Inc(1)
		return fallback, false
	}
	p, ok := m.positiveProbability(FeatureRow(h, e.now()))
	if !ok || math.IsNaN(p) {
		e.telemetry.Fallbacks.Inc(1)
		return fallback, false
	}
	return internal.Clamp(p, 0, 1), true
}
