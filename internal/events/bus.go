package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const subscriptionBuffer = 64

// Subscription is a live feed of events matching the subscriber's filter.
type Subscription struct {
	ID     string
	Events <-chan Event

	ch    chan Event
	types map[EventType]bool
	jobID string
}

// Bus is a non-blocking in-process publish/subscribe bus. Slow subscribers
// drop events rather than stalling publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	logger hclog.Logger
}

// NewBus creates an event bus.
func NewBus(logger hclog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]*Subscription),
		logger: logger.Named("event-bus"),
	}
}

// Subscribe registers interest in the given event types. An empty type
// list matches everything. A non-empty jobID restricts the feed to that
// job's events.
func (b *Bus) Subscribe(jobID string, types ...EventType) *Subscription {
	sub := &Subscription{
		ID:    uuid.New().String(),
		ch:    make(chan Event, subscriptionBuffer),
		types: make(map[EventType]bool, len(types)),
		jobID: jobID,
	}
	sub.Events = sub.ch
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish delivers an event to all matching subscribers without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.jobID != "" && sub.jobID != evt.JobID {
			continue
		}
		if len(sub.types) > 0 && !sub.types[evt.Type] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				"subscription_id", sub.ID, "type", evt.Type)
		}
	}
}
