package tasks

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/labmanager/labml/pkg/app"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/recognition"
)

var (
	_ models.Task = &RecognitionTrainTask{}
	_ models.Task = &MaintenanceTrainTask{}
	_ models.Task = &MaintenanceAnalyzeTask{}
)

func NewRecognitionTrainTask(appState *app.AppState) *RecognitionTrainTask {
	return &RecognitionTrainTask{BaseTask{appState: appState}}
}

// RecognitionTrainTask retrains the recognizer from the stored training photos. The
// payload is an optional recognition.TrainOptions.
type RecognitionTrainTask struct {
	BaseTask
}

func (rt *RecognitionTrainTask) Execute(ctx context.Context, msg *message.Message) error {
	ctx, done := context.WithTimeout(ctx, TaskTimeout)
	defer done()

	var opts recognition.TrainOptions
	if err := decodePayload(msg, &opts); err != nil {
		return err
	}

	log.Debugf("RecognitionTrainTask called, correlation id %s", middleware.MessageCorrelationID(msg))

	metrics, err := rt.appState.Recognizer.TrainFromStore(ctx, opts)
	if err != nil {
		return fmt.Errorf("RecognitionTrainTask train failed: %w", err)
	}
	log.Infof(
		"RecognitionTrainTask finished: %d classes, val accuracy %.3f",
		metrics.NumClasses, metrics.ValAccuracy,
	)
	return nil
}

func NewMaintenanceTrainTask(appState *app.AppState) *MaintenanceTrainTask {
	return &MaintenanceTrainTask{BaseTask{appState: appState}}
}

// MaintenanceTrainTask retrains the failure predictor.
type MaintenanceTrainTask struct {
	BaseTask
}

func (mt *MaintenanceTrainTask) Execute(ctx context.Context, msg *message.Message) error {
	ctx, done := context.WithTimeout(ctx, TaskTimeout)
	defer done()

	log.Debugf("MaintenanceTrainTask called, correlation id %s", middleware.MessageCorrelationID(msg))

	metrics, err := mt.appState.Maintenance.Train(ctx)
	if err != nil {
		return fmt.Errorf("MaintenanceTrainTask train failed: %w", err)
	}
	log.Infof(
		"MaintenanceTrainTask finished: run %s, %d rows, cv accuracy %.3f",
		metrics.RunID, metrics.TotalRows, metrics.CVAccuracy,
	)
	return nil
}

func NewMaintenanceAnalyzeTask(appState *app.AppState) *MaintenanceAnalyzeTask {
	return &MaintenanceAnalyzeTask{BaseTask{appState: appState}}
}

// MaintenanceAnalyzeTask scores all active equipment and raises alerts.
type MaintenanceAnalyzeTask struct {
	BaseTask
}

func (at *MaintenanceAnalyzeTask) Execute(ctx context.Context, msg *message.Message) error {
	ctx, done := context.WithTimeout(ctx, TaskTimeout)
	defer done()

	log.Debugf("MaintenanceAnalyzeTask called, correlation id %s", middleware.MessageCorrelationID(msg))

	summary, err := at.appState.Maintenance.AnalyzeAll(ctx)
	if err != nil {
		return fmt.Errorf("MaintenanceAnalyzeTask analysis failed: %w", err)
	}
	log.Infof(
		"MaintenanceAnalyzeTask finished: %d analyzed, %d at risk, %d alerts",
		summary.EquipmentAnalyzed, summary.AtRiskCount, summary.AlertsGenerated,
	)
	return nil
}
