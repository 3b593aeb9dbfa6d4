package engine

import (
	"context"
	"time"

	"relaybot/internal/queue"
)

// Config controls one worker pool.
type Config struct {
	Workers int
	// RatePerMinute caps how many jobs start per minute; 0 disables.
	RatePerMinute int

	// DefaultTimeout bounds a single attempt; 0 means no bound.
	DefaultTimeout time.Duration

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Result is what a handler reports for a finished job.
type Result struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Handler processes one job type.
type Handler interface {
	Handle(ctx context.Context, job queue.Job) (Result, error)
}

type HandlerFunc func(ctx context.Context, job queue.Job) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, job queue.Job) (Result, error) { return f(ctx, job) }

type HistoryItem struct {
	ID         string
	Type       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Result     Result
	Error      string
}

// JobEvent is published on the event bus for job lifecycle events.
type JobEvent struct {
	Queue      string        `json:"queue"`
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Result     Result        `json:"result"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Queue    string
	Running  bool
	Workers  int
	InFlight int
	Done     uint64
	Failed   uint64
	History  []HistoryItem
}
