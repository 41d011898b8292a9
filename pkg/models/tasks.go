package models

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

type TaskTopic string

const (
	RecognitionTrainTopic   TaskTopic = "recognition_train"
	MaintenanceTrainTopic   TaskTopic = "maintenance_train"
	MaintenanceAnalyzeTopic TaskTopic = "maintenance_analyze"
)

type Task interface {
	Execute(ctx context.Context, event *message.Message) error
	HandleError(err error)
}

type TaskRouter interface {
	Run(ctx context.Context) error
	AddTask(ctx context.Context, name string, taskType TaskTopic, task Task)
	RunHandlers(ctx context.Context) error
	IsRunning() bool
	Close() error
}

type TaskPublisher interface {
	Publish(taskType TaskTopic, metadata map[string]string, payload any) error
	Close() error
}
