// Package queue carries jobs between the scheduler and the workers.
//
// Every job has an id; enqueueing an id seen within the dedup window is
// discarded, which is what makes slot-derived job ids coalesce duplicate
// triggers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)

// DefaultDedupTTL is how long an id is remembered after enqueue.
const DefaultDedupTTL = time.Hour

// Job is one unit of work.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Queue is a named FIFO of jobs.
type Queue interface {
	Name() string
	// Enqueue reports false when the id was already enqueued inside the dedup
	// window and the job was dropped.
	Enqueue(ctx context.Context, job Job) (bool, error)
	// Dequeue blocks until a job is available, ctx ends or the queue closes.
	Dequeue(ctx context.Context) (Job, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// NewJob marshals payload into a Job.
func NewJob(id, typ string, payload any) (Job, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Job{}, err
	}
	return Job{ID: id, Type: typ, Payload: b, EnqueuedAt: time.Now()}, nil
}
