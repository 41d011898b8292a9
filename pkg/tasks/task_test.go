package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labmanager/labml/pkg/app"
	"github.com/labmanager/labml/pkg/models"
	"github.com/labmanager/labml/pkg/store/postgres"
	"github.com/labmanager/labml/pkg/testutils"
)

// countingTask returns err from every Execute.
type countingTask struct {
	calls  atomic.Int32
	err    error
	failed atomic.Int32
}

func (c *countingTask) Execute(context.Context, *message.Message) error {
	c.calls.Add(1)
	return c.err
}

func (c *countingTask) HandleError(error) {
	c.failed.Add(1)
}

func newTestAppState(t *testing.T) (*app.AppState, *postgres.Store) {
	t.Helper()
	ctx := context.Background()
	cfg := testutils.NewTestConfig(t)
	cfg.Recognition.ImageSize = 32
	cfg.Maintenance.Trees = 10

	db := testutils.NewTestDB(t)
	require.NoError(t, postgres.CreateSchema(ctx, db))
	store := postgres.NewStore(db)

	appState, err := app.NewAppState(ctx, cfg, store)
	require.NoError(t, err)
	return appState, store
}

func TestTaskHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"training in progress is acked", models.ErrTrainingInProgress, false},
		{"insufficient data is acked", models.NewInsufficientDataError("maintenance", 1, 5, ""), false},
		{"invalid payload is acked", models.NewInvalidInputError("bad json"), false},
		{"database error is retried", models.NewDatabaseError("select", errors.New("conn reset")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &countingTask{err: tt.err}
			err := TaskHandler(task)(message.NewMessage("1", nil))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, int32(1), task.calls.Load())
			if tt.err != nil {
				assert.Equal(t, int32(1), task.failed.Load())
			}
		})
	}
}

func TestTaskPublisher(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := NewPubSub()
	defer pubSub.Close()
	messages, err := pubSub.Subscribe(ctx, string(models.MaintenanceAnalyzeTopic))
	require.NoError(t, err)

	publisher := NewTaskPublisher(pubSub)
	err = publisher.Publish(
		models.MaintenanceAnalyzeTopic,
		map[string]string{"request_id": "req-1", "source": "test"},
		map[string]int{"epochs": 3},
	)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, "req-1", middleware.MessageCorrelationID(msg))
		assert.Equal(t, "test", msg.Metadata.Get("source"))
		assert.JSONEq(t, `{"epochs":3}`, string(msg.Payload))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for published message")
	}
}

func TestDecodePayload(t *testing.T) {
	var opts struct {
		Epochs int `json:"epochs"`
	}
	assert.NoError(t, decodePayload(message.NewMessage("1", nil), &opts))
	assert.Zero(t, opts.Epochs)

	assert.NoError(t, decodePayload(message.NewMessage("2", []byte(`{"epochs":4}`)), &opts))
	assert.Equal(t, 4, opts.Epochs)

	err := decodePayload(message.NewMessage("3", []byte(`{`)), &opts)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func newMessage(payload string) *message.Message {
	return message.NewMessage("test", []byte(payload))
}
