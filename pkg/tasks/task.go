// Package tasks runs training and analysis jobs off the request path. Jobs travel as
// watermill messages over an in-process channel pub/sub.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/app"
	"github.com/labmanager/labml/pkg/models"
)

// TaskTimeout bounds a single task execution. Training runs dominate.
const TaskTimeout = 30 * time.Minute

var log = internal.GetLogger()

type BaseTask struct {
	appState *app.AppState
}

func (b *BaseTask) HandleError(err error) {
	log.Errorf("Task HandleError error: %s", err)
}

// Initialize registers every task with the router. Nothing is registered when tasks are
// disabled in the config.
func Initialize(ctx context.Context, appState *app.AppState, router models.TaskRouter) {
	log.Info("Initializing tasks")

	addTask := func(ctx context.Context, name string, taskType models.TaskTopic, enabled bool, newTask func() models.Task) {
		if enabled {
			task := newTask()
			router.AddTask(ctx, name, taskType, task)
			log.Infof("%s task added to task router", name)
		}
	}

	enabled := appState.Config.Tasks.Enabled

	addTask(
		ctx,
		string(models.RecognitionTrainTopic),
		models.RecognitionTrainTopic,
		enabled,
		func() models.Task { return NewRecognitionTrainTask(appState) },
	)

	addTask(
		ctx,
		string(models.MaintenanceTrainTopic),
		models.MaintenanceTrainTopic,
		enabled,
		func() models.Task { return NewMaintenanceTrainTask(appState) },
	)

	addTask(
		ctx,
		string(models.MaintenanceAnalyzeTopic),
		models.MaintenanceAnalyzeTopic,
		enabled,
		func() models.Task { return NewMaintenanceAnalyzeTask(appState) },
	)
}

// permanent reports errors that a retry cannot fix. The message is acked and the error
// only logged.
func permanent(err error) bool {
	return errors.Is(err, models.ErrTrainingInProgress) ||
		errors.Is(err, models.ErrInsufficientData) ||
		errors.Is(err, models.ErrInvalidInput)
}

// decodePayload unmarshals an optional JSON payload. An empty payload leaves v untouched.
func decodePayload(msg *message.Message, v any) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return models.NewInvalidInputError(fmt.Sprintf("failed to unmarshal task payload: %v", err))
	}
	return nil
}
