package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/lock"
	"relaybot/internal/queue"
	"relaybot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{"*/5 * * * *", "*/5 * * * *"},
		{"cron:0 0 * * *", "0 0 * * *"},
		{"@hourly", "@hourly"},
		{"10m", "@every 10m0s"},
		{"every:45s", "@every 45s"},
		{"01:30", "@every 1h30m0s"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "not-a-schedule", "61 * * * *", "00:75", "0m"} {
		_, err := ParseSchedule(bad)
		require.Error(t, err, bad)
	}
}

type failingQueue struct{ queue.Queue }

func (failingQueue) Enqueue(context.Context, queue.Job) (bool, error) {
	return false, errors.New("broker down")
}

func newTestService(t *testing.T, q queue.Queue, l lock.Locker) *Service {
	t.Helper()
	s := New(Config{}, l, map[string]queue.Queue{"crawl": q}, logx.Nop(), nil)
	s.now = func() time.Time { return time.Unix(600*5000+5, 0) }
	return s
}

func TestFireDedupsWithinSlot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := queue.NewMemory("crawl", 8, time.Hour)
	l := lock.NewMemory()
	a := newTestService(t, q, l)
	b := newTestService(t, q, l) // second instance sharing the lock store

	def := TaskDef{ID: "user-feed", Type: "crawl", Queue: "crawl", Schedule: "*/5 * * * *", Config: json.RawMessage(`{"user":"x"}`)}

	o, err := a.Fire(ctx, def)
	require.NoError(t, err)
	require.Equal(t, OutcomeEnqueued, o)

	o, err = b.Fire(ctx, def)
	require.NoError(t, err)
	require.Equal(t, OutcomeLocked, o)

	n, _ := q.Len(ctx)
	require.Equal(t, 1, n)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	var p TriggerPayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	require.Equal(t, "user-feed", p.TaskID)
	require.JSONEq(t, `{"user":"x"}`, string(p.Config))

	// Next slot.
	b.now = func() time.Time { return time.Unix(600*5001+5, 0) }
	o, err = b.Fire(ctx, def)
	require.NoError(t, err)
	require.Equal(t, OutcomeEnqueued, o)
}

func TestFireReleasesLockWhenEnqueueFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := lock.NewMemory()
	def := TaskDef{ID: "t", Type: "crawl", Queue: "crawl", Schedule: "*/5 * * * *"}

	bad := newTestService(t, failingQueue{}, l)
	o, err := bad.Fire(ctx, def)
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, o)

	good := newTestService(t, queue.NewMemory("crawl", 2, time.Hour), l)
	o, err = good.Fire(ctx, def)
	require.NoError(t, err)
	require.Equal(t, OutcomeEnqueued, o)
}

func TestAddTaskValidates(t *testing.T) {
	t.Parallel()

	s := New(Config{}, lock.NewMemory(), map[string]queue.Queue{"crawl": queue.NewMemory("crawl", 1, 0)}, logx.Nop(), nil)
	require.Error(t, s.AddTask(TaskDef{ID: "a", Schedule: "nope nope"}))
	require.Error(t, s.AddTask(TaskDef{ID: "b", Schedule: "5m", Queue: "missing"}))
	require.NoError(t, s.AddTask(TaskDef{ID: "c", Schedule: "5m"}))
	require.Error(t, s.AddTask(TaskDef{ID: "c", Schedule: "5m"}))
	require.NoError(t, s.AddInterval("accounts.unban", time.Minute, func(context.Context) error { return nil }))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())
	infos := s.Schedules()
	require.Len(t, infos, 2)
	require.False(t, infos[0].Next.IsZero())
}
