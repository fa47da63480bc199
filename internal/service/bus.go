package service

import (
	"sync"
	"time"
)

// Event kinds published on the bus.
const (
	DatasetUpdated    = "updated"
	DatasetDeleted    = "deleted"
	DatasetAggregated = "aggregated"
)

// Event reports a change to a dataset.
type Event struct {
	Kind    string
	Dataset string
	At      time.Time
}

const subscriberBuffer = 16

// EventBus is a simple fan-out pub/sub for dataset events.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[chan Event]string // channel -> dataset filter ("" = all)
	dropped int
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]string)}
}

// Publish sends an event to every matching subscriber without blocking.
// Events for subscribers with a full buffer are dropped.
func (b *EventBus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	var dropped int
	for ch, filter := range b.subs {
		if filter != "" && filter != e.Dataset {
			continue
		}
		select {
		case ch <- e:
		default:
			dropped++
		}
	}
	b.mu.RUnlock()

	if dropped > 0 {
		b.mu.Lock()
		b.dropped += dropped
		b.mu.Unlock()
	}
}

// Subscribe returns a buffered channel receiving events for one dataset,
// or for all datasets when dataset is empty.
func (b *EventBus) Subscribe(dataset string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = dataset
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// Dropped returns the number of events lost to slow subscribers.
func (b *EventBus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
