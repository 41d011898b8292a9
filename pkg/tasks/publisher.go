package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/labmanager/labml/pkg/models"
)

var _ models.TaskPublisher = &TaskPublisher{}

type TaskPublisher struct {
	publisher message.Publisher
}

func NewTaskPublisher(publisher message.Publisher) *TaskPublisher {
	return &TaskPublisher{
		publisher: publisher,
	}
}

// Publish sends payload as JSON on the task topic. A "request_id" metadata entry becomes
// the message correlation id.
func (t *TaskPublisher) Publish(taskType models.TaskTopic, metadata map[string]string, payload any) error {
	p, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	log.Debugf("Publishing message: %s", p)
	m := message.NewMessage(watermill.NewUUID(), p)
	for k, v := range metadata {
		m.Metadata.Set(k, v)
	}
	correlationID := metadata["request_id"]
	if correlationID == "" {
		correlationID = watermill.NewShortUUID()
	}
	middleware.SetCorrelationID(correlationID, m)

	err = t.publisher.Publish(string(taskType), m)
	if err != nil {
		return fmt.Errorf("failed to publish task message: %w", err)
	}

	return nil
}

func (t *TaskPublisher) Close() error {
	err := t.publisher.Close()
	if err != nil {
		return fmt.Errorf("failed to close task publisher: %w", err)
	}

	return nil
}
