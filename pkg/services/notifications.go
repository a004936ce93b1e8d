package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukex/montracker/pkg/eventbus"
	"github.com/dukex/montracker/pkg/events"
)

// DefaultNotificationBuffer is the number of status changes kept when no size is given.
const DefaultNotificationBuffer = 256

// Notifications keeps the latest model status changes delivered by the event bus.
type Notifications struct {
	mu    sync.RWMutex
	items []events.ModelStatusChanged
	next  int
	full  bool
}

func NewNotifications(size int) *Notifications {
	if size <= 0 {
		size = DefaultNotificationBuffer
	}

	return &Notifications{items: make([]events.ModelStatusChanged, size)}
}

// Register subscribes the buffer to status change events.
func (n *Notifications) Register(subscriber eventbus.EventSubscriber) error {
	return subscriber.Handle(events.ModelStatusChangedEvent, n.Handle)
}

// Handle records one delivered event.
func (n *Notifications) Handle(_ context.Context, event any) error {
	changed, ok := event.(*events.ModelStatusChanged)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.items[n.next] = *changed
	n.next = (n.next + 1) % len(n.items)

	if n.next == 0 {
		n.full = true
	}

	return nil
}

// Recent returns up to limit changes, newest first. A non-zero actionID keeps
// only the changes of that action.
func (n *Notifications) Recent(actionID int64, limit int) []events.ModelStatusChanged {
	n.mu.RLock()
	defer n.mu.RUnlock()

	count := n.next
	if n.full {
		count = len(n.items)
	}

	if limit <= 0 || limit > count {
		limit = count
	}

	out := make([]events.ModelStatusChanged, 0, limit)

	for i := 1; i <= count && len(out) < limit; i++ {
		item := n.items[(n.next-i+len(n.items))%len(n.items)]
		if actionID != 0 && item.ActionID != actionID {
			continue
		}

		out = append(out, item)
	}

	return out
}
