// Package events provides the publish-subscribe bus carrying the
// coordinator's lifecycle event stream.
package events

import (
	"sync"

	"github.com/hivemesh/swarmcore/internal/shared"
)

// Handler is a function invoked for matching events.
type Handler func(event shared.Event)

// wildcard matches every event kind.
const wildcard shared.EventKind = "*"

type subscription struct {
	id int64
	ch chan shared.Event
}

// Bus is a publish-subscribe event system over Go channels. Emit is
// non-blocking: a subscriber that falls behind its buffer misses events
// rather than stalling the coordinator. Events emitted from a single
// goroutine are observed in emission order by every subscriber that
// keeps up.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[shared.EventKind][]subscription
	handlers    map[shared.EventKind][]Handler
	nextSubID   int64
	bufferSize  int
	closed      bool
}

// Option configures the Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber channel buffer size.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		b.bufferSize = size
	}
}

// New creates a new Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[shared.EventKind][]subscription),
		handlers:    make(map[shared.EventKind][]Handler),
		bufferSize:  256,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe creates a channel receiving events of the given kind. The
// returned id cancels the subscription via Unsubscribe.
func (b *Bus) Subscribe(kind shared.EventKind) (<-chan shared.Event, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := subscription{id: b.nextSubID, ch: make(chan shared.Event, b.bufferSize)}
	b.subscribers[kind] = append(b.subscribers[kind], sub)
	return sub.ch, sub.id
}

// SubscribeAll creates a channel receiving every event.
func (b *Bus) SubscribeAll() (<-chan shared.Event, int64) {
	return b.Subscribe(wildcard)
}

// Unsubscribe cancels a subscription by id and closes its channel.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for kind, subs := range b.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				b.subscribers[kind] = append(subs[:i], subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
}

// On registers a handler for events of the given kind. Handlers run on
// the emitting goroutine, in registration order.
func (b *Bus) On(kind shared.EventKind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[kind] = append(b.handlers[kind], handler)
}

// OnAll registers a handler for every event.
func (b *Bus) OnAll(handler Handler) {
	b.On(wildcard, handler)
}

// Emit publishes an event to all matching subscribers and handlers.
// Channel subscribers receive detached copies, so one consumer cannot
// mutate the details map out from under another.
func (b *Bus) Emit(event shared.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = shared.Now()
	}

	for _, kind := range []shared.EventKind{event.Kind, wildcard} {
		for _, sub := range b.subscribers[kind] {
			select {
			case sub.ch <- shared.CloneEvent(event):
			default:
				// subscriber buffer full, drop rather than block
			}
		}
		for _, handler := range b.handlers[kind] {
			handler(event)
		}
	}
}

// Close closes all subscriber channels and stops the bus.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.subscribers = make(map[shared.EventKind][]subscription)
	b.handlers = make(map[shared.EventKind][]Handler)
}
