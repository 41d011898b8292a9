package tasks

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	wla "github.com/ma-hartma/watermill-logrus-adapter"

	"github.com/labmanager/labml/pkg/app"
	"github.com/labmanager/labml/pkg/models"
)

const TaskCountThrottle = 10 // messages per second
const MaxQueueRetries = 3

// OutputChannelBuffer is the per-subscriber buffer of the in-process pub/sub.
const OutputChannelBuffer = 64

var _ models.TaskRouter = &TaskRouter{}

// TaskRouter is a wrapper around watermill's Router that adds some
// functionality for managing tasks and handlers.
// All handlers subscribe to the same in-process GoChannel pub/sub.
type TaskRouter struct {
	*message.Router
	pubSub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

// NewPubSub creates the in-process pub/sub shared by the router and the publisher.
func NewPubSub() *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: OutputChannelBuffer},
		wla.NewLogrusLogger(log),
	)
}

// NewTaskRouter creates a new TaskRouter subscribed to pubSub.
func NewTaskRouter(pubSub *gochannel.GoChannel) (*TaskRouter, error) {
	var wlog = wla.NewLogrusLogger(log)

	router, err := message.NewRouter(message.RouterConfig{}, wlog)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(
		// CorrelationID will copy the correlation id from the incoming message's metadata to the produced messages
		middleware.CorrelationID,

		// Throttle limits the number of messages processed per second.
		middleware.NewThrottle(TaskCountThrottle, time.Second).Middleware,

		// Recoverer handles panics from handlers.
		// In this case, it passes them as errors to the Retry middleware.
		middleware.Recoverer,

		// The handler function is retried if it returns an error.
		// After MaxRetries, the message is Nacked and it's up to the PubSub to resend it.
		middleware.Retry{
			MaxRetries:      MaxQueueRetries,
			InitialInterval: 1 * time.Second,
			Multiplier:      2,
			Logger:          wlog,
		}.Middleware,
	)

	return &TaskRouter{
		Router: router,
		pubSub: pubSub,
		logger: wlog,
	}, nil
}

// AddTask adds a task handler to the router.
func (tr *TaskRouter) AddTask(_ context.Context, name string, taskType models.TaskTopic, task models.Task) {
	tr.AddNoPublisherHandler(
		name,
		string(taskType),
		tr.pubSub,
		TaskHandler(task),
	)
}

func (tr *TaskRouter) Close() (err error) {
	routerErr := tr.Router.Close()
	defer func() {
		psErr := tr.pubSub.Close()
		if err == nil {
			err = psErr
		}
	}()
	if routerErr != nil {
		err = routerErr
	}
	return err
}

// TaskHandler returns a message handler function for the given task.
// Handlers are NoPublishHandlerFuncs i.e. do not publish messages.
// Errors a retry cannot fix are logged and the message acked.
func TaskHandler(task models.Task) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		err := task.Execute(msg.Context(), msg)
		if err != nil {
			task.HandleError(err)
			if permanent(err) {
				return nil
			}
			return err
		}
		return nil
	}
}

// RunTaskRouter wires a router and a publisher over a fresh pub/sub into appState,
// starts the router and waits until it is running.
func RunTaskRouter(ctx context.Context, appState *app.AppState) error {
	pubSub := NewPubSub()
	router, err := NewTaskRouter(pubSub)
	if err != nil {
		return err
	}

	Initialize(ctx, appState, router)

	appState.TaskRouter = router
	appState.TaskPublisher = NewTaskPublisher(pubSub)

	go func() {
		log.Info("running task router")
		if err := router.Run(ctx); err != nil {
			log.Errorf("task router stopped: %v", err)
		}
	}()

	select {
	case <-router.Running():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
