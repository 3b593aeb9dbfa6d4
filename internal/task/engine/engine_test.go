package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/eventbus"
	"relaybot/internal/queue"
	"relaybot/pkg/logx"
)

func fastCfg() Config {
	return Config{Workers: 2, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s := New(fastCfg(), queue.NewMemory("storage", 4, time.Hour), logx.Nop(), nil)
	s.Handle("article", HandlerFunc(func(context.Context, queue.Job) (Result, error) {
		if calls.Add(1) < 3 {
			return Result{}, errors.New("transient")
		}
		return Result{Success: true, Count: 2}, nil
	}))

	res, err := s.Run(context.Background(), queue.Job{ID: "1", Type: "article"})
	require.NoError(t, err)
	require.Equal(t, Result{Success: true, Count: 2}, res)
	require.Equal(t, int32(3), calls.Load())

	snap := s.Snapshot()
	require.Len(t, snap.History, 1)
	require.Equal(t, 3, snap.History[0].Attempts)
}

func TestRunNoRetryAndPanic(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s := New(fastCfg(), queue.NewMemory("storage", 4, time.Hour), logx.Nop(), nil)
	s.Handle("bad", HandlerFunc(func(context.Context, queue.Job) (Result, error) {
		calls.Add(1)
		return Result{}, NoRetry(errors.New("malformed"))
	}))
	s.Handle("panic", HandlerFunc(func(context.Context, queue.Job) (Result, error) {
		panic("boom")
	}))

	_, err := s.Run(context.Background(), queue.Job{ID: "1", Type: "bad"})
	require.EqualError(t, err, "malformed")
	require.Equal(t, int32(1), calls.Load())

	res, err := s.Run(context.Background(), queue.Job{ID: "2", Type: "panic"})
	require.ErrorContains(t, err, "panic: boom")
	require.Contains(t, res.Error, "boom")

	_, err = s.Run(context.Background(), queue.Job{ID: "3", Type: "unknown"})
	require.ErrorIs(t, err, ErrNoHandler)
}

func TestWorkersConsumeQueueAndPublish(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	q := queue.NewMemory("forward", 8, time.Hour)
	s := New(fastCfg(), q, logx.Nop(), bus)
	got := make(chan string, 4)
	s.Handle("forward", HandlerFunc(func(_ context.Context, job queue.Job) (Result, error) {
		got <- job.ID
		return Result{Success: true, Count: 1}, nil
	}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		ok, err := q.Enqueue(context.Background(), queue.Job{ID: id, Type: "forward"})
		require.NoError(t, err)
		require.True(t, ok)
	}
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-got:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("job not consumed")
		}
	}
	require.Len(t, seen, 3)

	finished := 0
	deadline := time.After(2 * time.Second)
	for finished < 3 {
		select {
		case ev := <-events:
			if ev.Type == eventbus.JobFinished {
				finished++
			}
		case <-deadline:
			t.Fatalf("got %d finished events", finished)
		}
	}
}

func TestStopLetsInFlightJobFinish(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory("storage", 4, time.Hour)
	s := New(Config{Workers: 1}, q, logx.Nop(), nil)
	started := make(chan struct{})
	var completed atomic.Bool
	s.Handle("slow", HandlerFunc(func(ctx context.Context, _ queue.Job) (Result, error) {
		close(started)
		select {
		case <-time.After(100 * time.Millisecond):
			completed.Store(true)
			return Result{Success: true}, nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}))

	require.NoError(t, s.Start(context.Background()))
	_, err := q.Enqueue(context.Background(), queue.Job{ID: "s", Type: "slow"})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	require.True(t, completed.Load())
	require.False(t, s.Snapshot().Running)
}

func TestRateLimitPacesJobs(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory("forward", 8, time.Hour)
	// 1200/min = one every 50ms.
	s := New(Config{Workers: 3, RatePerMinute: 1200}, q, logx.Nop(), nil)
	stamps := make(chan time.Time, 3)
	s.Handle("*", HandlerFunc(func(context.Context, queue.Job) (Result, error) {
		stamps <- time.Now()
		return Result{Success: true}, nil
	}))
	for _, id := range []string{"1", "2", "3"} {
		_, err := q.Enqueue(context.Background(), queue.Job{ID: id, Type: "x"})
		require.NoError(t, err)
	}
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	first := <-stamps
	<-stamps
	third := <-stamps
	require.GreaterOrEqual(t, third.Sub(first), 90*time.Millisecond)
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()

	s := New(Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}, queue.NewMemory("x", 1, 0), logx.Nop(), nil)
	require.Equal(t, 100*time.Millisecond, s.backoffDelay(1, errors.New("e"), nil))
	require.Equal(t, 400*time.Millisecond, s.backoffDelay(3, errors.New("e"), nil))
	require.Equal(t, time.Second, s.backoffDelay(10, errors.New("e"), nil))
	require.Equal(t, time.Second, s.backoffDelay(1, RetryAfter(errors.New("429"), time.Hour), nil))
}
