package registry

import "context"

const (
	EventModelRegistered = "model.registered"
	EventModelTrained    = "model.trained"
	EventModelTrain      = "model.train"

	eventSource = "model-registry"
)

// Publisher receives lifecycle events. kafka.Producer satisfies it.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type noopPublisher struct{}

func (noopPublisher) PublishEvent(context.Context, string, string, map[string]interface{}) error {
	return nil
}
