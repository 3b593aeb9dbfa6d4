package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is a bounded in-process queue.
type Memory struct {
	name string
	ch   chan Job
	ttl  time.Duration

	mu     sync.Mutex
	seen   map[string]time.Time
	closed bool
	done   chan struct{}
	clock  func() time.Time
}

func NewMemory(name string, capacity int, dedupTTL time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	return &Memory{
		name:  name,
		ch:    make(chan Job, capacity),
		ttl:   dedupTTL,
		seen:  map[string]time.Time{},
		done:  make(chan struct{}),
		clock: time.Now,
	}
}

func (q *Memory) Name() string { return q.name }

func (q *Memory) Enqueue(ctx context.Context, job Job) (bool, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrClosed
	}
	now := q.clock()
	if job.ID != "" {
		if until, ok := q.seen[job.ID]; ok && now.Before(until) {
			q.mu.Unlock()
			return false, nil
		}
		q.seen[job.ID] = now.Add(q.ttl)
		if len(q.seen) > 4*cap(q.ch) {
			q.pruneLocked(now)
		}
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}

	select {
	case q.ch <- job:
		q.mu.Unlock()
		return true, nil
	default:
		delete(q.seen, job.ID)
		q.mu.Unlock()
		return false, fmt.Errorf("%s: %w", q.name, ErrFull)
	}
}

func (q *Memory) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.ch:
		return job, nil
	default:
	}
	select {
	case <-ctx.Done():
		return Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job := <-q.ch:
		return job, nil
	case <-q.done:
		return Job{}, ErrClosed
	}
}

func (q *Memory) Len(context.Context) (int, error) { return len(q.ch), nil }

// Close stops new enqueues and wakes blocked consumers. Buffered jobs are
// discarded.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

func (q *Memory) pruneLocked(now time.Time) {
	for id, until := range q.seen {
		if !now.Before(until) {
			delete(q.seen, id)
		}
	}
}
