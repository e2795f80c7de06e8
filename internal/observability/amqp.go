package observability

import (
	"context"
	"sync"

	"portal-chat/internal/rabbitmq"
)

var (
	publisherMu      sync.RWMutex
	defaultPublisher rabbitmq.Publisher
)

func SetPublisher(publisher rabbitmq.Publisher) {
	publisherMu.Lock()
	defer publisherMu.Unlock()
	defaultPublisher = publisher
}

func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	publisherMu.RLock()
	publisher := defaultPublisher
	publisherMu.RUnlock()
	if publisher == nil {
		return nil
	}

	err := publisher.Publish(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
