// Package eventbus is an in-process fanout of small lifecycle events
// (job finished, forward sent, account banned) consumed by metrics and logs.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by relay components.
const (
	JobEnqueued   = "job.enqueued"
	JobStarted    = "job.started"
	JobFinished   = "job.finished"
	JobFailed     = "job.failed"
	JobSkipped    = "job.skipped"
	ForwardSent   = "forward.sent"
	ForwardFailed = "forward.failed"
	ForwardBlock  = "forward.blocked"
	AccountBanned = "account.banned"
	AccountPool   = "account.pool"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus never blocks publishers; a subscriber whose buffer is full misses
// events.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
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
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight publishes.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
