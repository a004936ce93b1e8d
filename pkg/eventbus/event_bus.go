// Package eventbus provides event-driven communication infrastructure for model status notifications.
package eventbus

import (
	"context"

	"github.com/dukex/montracker/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher sends events after the unit of work that produced them committed.
// The key is the analysis id, so kafka keeps the events of one analysis in order.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes delivered events by type. Handlers must be registered
// before Subscribe; events without a handler are acked and dropped.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
