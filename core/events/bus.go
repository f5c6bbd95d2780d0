// Package events fans coordinator events out to subscribers: the API
// websocket feed and the archive store. Delivery is best-effort; a slow
// subscriber drops events rather than backpressuring the core.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/pkg/logger"
)

const subscriberBuffer = 256

// Bus is a non-blocking fan-out of core events.
type Bus struct {
	logger *logger.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan types.Event

	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		logger: log,
		subs:   make(map[int]chan types.Event),
	}
}

// Subscribe registers a consumer. The returned cancel function must be
// called to release the subscription.
func (b *Bus) Subscribe() (<-chan types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan types.Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped for slow subscriber", "type", ev.EventType())
		}
	}
}

// Dropped reports how many events were discarded on full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
