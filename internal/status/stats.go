package status

import (
	"sync"
	"time"

	"github.com/itsamit108/chat-app/internal/bus"
)

// Snapshot is a point-in-time view of relay activity counters, keyed by
// event kind ("presence.online", "message.sent", ...).
type Snapshot struct {
	StartedAt     time.Time         `json:"startedAt"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Counters      map[string]uint64 `json:"counters"`
}

// Collector subscribes to the whole event bus and counts events per kind.
// It is the backing source for the stats endpoint.
type Collector struct {
	mu        sync.Mutex
	counters  map[string]uint64
	startedAt time.Time

	unsub func()
	done  chan struct{}
}

// NewCollector starts counting immediately.
func NewCollector(b *bus.Bus) *Collector {
	c := &Collector{
		counters:  make(map[string]uint64),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	ch, unsub := b.Subscribe("", 256)
	c.unsub = unsub
	go func() {
		defer close(c.done)
		for evt := range ch {
			c.mu.Lock()
			c.counters[evt.Kind]++
			c.mu.Unlock()
		}
	}()
	return c
}

// Count returns the current value of one counter.
func (c *Collector) Count(kind string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[kind]
}

// Snapshot copies the counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Snapshot{
		StartedAt:     c.startedAt,
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
		Counters:      make(map[string]uint64, len(c.counters)),
	}
	for k, v := range c.counters {
		out.Counters[k] = v
	}
	return out
}

// Stop unsubscribes from the bus and waits for the counting goroutine to
// drain. Events published afterwards are not counted.
func (c *Collector) Stop() {
	c.unsub()
	<-c.done
}
