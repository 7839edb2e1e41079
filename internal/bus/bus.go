package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// The coordinator publishes presence, message, and typing events on it;
// observability consumers (stats, logging) subscribe by namespace prefix.
// Delivery is best-effort: a subscriber with a full buffer loses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	next        int
}

type subscriber struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[int]*subscriber),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of
// event.Kind. Publish never blocks the caller.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
}

// Subscribe returns a channel that receives events matching the given
// namespace prefix. bufSize controls the channel buffer. The unsubscribe
// function closes the channel, so a consumer ranging over it terminates.
// Unsubscribing twice is safe.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subscribers[id] = &subscriber{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[id]; !ok {
			return
		}
		delete(b.subscribers, id)
		close(ch)
	}
}
