package interfaces

import (
	"context"

	"github.com/customeros/imagestack/dto"
	"github.com/customeros/imagestack/internal/enum"
)

type EventPublisher interface {
	PublishFanoutEvent(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}) error
	PublishDirectEvent(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}, routingKey string) error
	Close() error
}

type EventListener interface {
	Handle(ctx context.Context, event any) error
	GetEventType() string
	GetQueueName() string
}

type EventSubscriber interface {
	RegisterListener(listener EventListener)
	ListenQueue(queueName string) error
	ListenQueueExclusive(queueName string) error
	Close() error
}

type PropertyUpdatePublisher interface {
	PublishPropertyImagesUpdated(ctx context.Context, message dto.PropertyImagesUpdated) error
}
