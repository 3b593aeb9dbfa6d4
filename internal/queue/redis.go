package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a list-backed queue shared by every worker process.
// Keys: <prefix>:<name> holds jobs, <prefix>:<name>:seen:<id> marks ids.
type Redis struct {
	client redis.UniversalClient
	name   string
	key    string
	prefix string
	ttl    time.Duration
	poll   time.Duration
	closed atomic.Bool
}

func NewRedis(client redis.UniversalClient, prefix, name string, dedupTTL time.Duration) *Redis {
	if prefix == "" {
		prefix = "relaybot"
	}
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	return &Redis{
		client: client,
		name:   name,
		key:    prefix + ":queue:" + name,
		prefix: prefix + ":queue:" + name + ":seen:",
		ttl:    dedupTTL,
		poll:   time.Second,
	}
}

func (q *Redis) Name() string { return q.name }

func (q *Redis) Enqueue(ctx context.Context, job Job) (bool, error) {
	if q.closed.Load() {
		return false, ErrClosed
	}
	if job.ID != "" {
		fresh, err := q.client.SetNX(ctx, q.prefix+job.ID, 1, q.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("%s dedup: %w", q.name, err)
		}
		if !fresh {
			return false, nil
		}
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	b, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	if err := q.client.RPush(ctx, q.key, b).Err(); err != nil {
		if job.ID != "" {
			_ = q.client.Del(ctx, q.prefix+job.ID).Err()
		}
		return false, fmt.Errorf("%s push: %w", q.name, err)
	}
	return true, nil
}

// Dequeue polls with BLPOP so Close and ctx are observed within one poll
// interval.
func (q *Redis) Dequeue(ctx context.Context) (Job, error) {
	for {
		if q.closed.Load() {
			return Job{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Job{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		res, err := q.client.BLPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return Job{}, fmt.Errorf("%s pop: %w", q.name, err)
		}
		if len(res) != 2 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return Job{}, fmt.Errorf("%s decode: %w", q.name, err)
		}
		return job, nil
	}
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	return int(n), err
}

// Close stops this handle; jobs stay in redis for other consumers.
func (q *Redis) Close() error {
	q.closed.Store(true)
	return nil
}
