// Package app holds the long-lived components shared by the HTTP server, the task
// router and the CLI.
package app

import (
	"context"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/intent"
	"github.com/labmanager/labml/pkg/maintenance"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/recognition"
)

var log = internal.GetLogger()

// AppState is a struct that holds the state of the application
// Use NewAppState to create a new instance
type AppState struct {
	Config        *config.Config
	Store         models.Store
	Metrics       gometrics.Registry
	Intent        *intent.Classifier
	Recognizer    *recognition.Recognizer
	Maintenance   *maintenance.Engine
	TaskRouter    models.TaskRouter
	TaskPublisher models.TaskPublisher
}

// Option customizes the components built by NewAppState.
type Option func(*options)

type options struct {
	recognition []recognition.Option
	maintenance []maintenance.Option
}

// WithRecognitionOptions passes extra options to the recognizer, e.g. a test backbone.
func WithRecognitionOptions(opts ...recognition.Option) Option {
	return func(o *options) { o.recognition = append(o.recognition, opts...) }
}

func WithMaintenanceOptions(opts ...maintenance.Option) Option {
	return func(o *options) { o.maintenance = append(o.maintenance, opts...) }
}

// NewAppState builds the three ML components over the shared model root and store.
// Task routing is wired separately by the caller.
func NewAppState(_ context.Context, cfg *config.Config, store models.Store, opts ...Option) (*AppState, error) {
	if store == nil {
		return nil, models.NewInvalidInputError("an equipment store is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	root := artifacts.Root(cfg.Models.Root)
	registry := gometrics.NewRegistry()

	recOpts := append([]recognition.Option{
		recognition.WithTrainingImageStore(store),
		recognition.WithMetricsRegistry(registry),
	}, o.recognition...)
	recognizer, err := recognition.New(recognition.NewConfig(cfg.Recognition), root, recOpts...)
	if err != nil {
		return nil, err
	}

	mntOpts := append([]maintenance.Option{maintenance.WithMetricsRegistry(registry)}, o.maintenance...)
	engine := maintenance.New(cfg.Maintenance, root, store, store, mntOpts...)

	appState := &AppState{
		Config:      cfg,
		Store:       store,
		Metrics:     registry,
		Intent:      intent.New(cfg.Intent, root),
		Recognizer:  recognizer,
		Maintenance: engine,
	}
	log.Infof("models root: %s", root)
	return appState, nil
}

// Close releases the task router, the publisher and the store, in that order.
func (a *AppState) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.TaskRouter != nil {
		keep(a.TaskRouter.Close())
	}
	if a.TaskPublisher != nil {
		keep(a.TaskPublisher.Close())
	}
	if a.Store != nil {
		keep(a.Store.Close())
	}
	return firstErr
}
