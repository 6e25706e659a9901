// Package eventbus fans out in-process lifecycle events (instance status
// changes, scheduler ticks, config reloads) to observers such as metrics.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the host, the health scheduler and the app.
const (
	InstanceStarted    = "instance.started"
	InstanceCompleted  = "instance.completed"
	InstanceFailed     = "instance.failed"
	InstanceTerminated = "instance.terminated"
	InstanceRejected   = "instance.rejected"
	TickCompleted      = "tick.completed"
	ConfigReloaded     = "config.reloaded"
)

// Event is a small in-memory signal.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// InstanceData accompanies the Instance* events.
type InstanceData struct {
	InstanceID string
	Workflow   string
	Team       string
	Duration   time.Duration
	Err        string
}

// TickData accompanies TickCompleted.
type TickData struct {
	Connections int
	Started     int
	Terminated  int
	Deferred    int
	Rejected    int
	Duration    time.Duration
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries lost to full subscriber buffers.
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Holding the write lock excludes concurrent sends, so close is safe.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
