package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/eventbus"
	"relaybot/internal/forward"
	"relaybot/internal/forward/sender"
	"relaybot/internal/task/engine"
	"relaybot/internal/worker"
	"relaybot/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (*recorder) Platform() string { return forward.PlatformNone }

func (r *recorder) Send(_ context.Context, _ forward.TargetConfig, msg sender.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, strings.Join(msg.Chunks, ""))
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

var ops = forward.TargetConfig{Platform: forward.PlatformNone, ID: "ops"}

func TestFormat(t *testing.T) {
	t.Parallel()

	until := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []struct {
		name    string
		event   eventbus.Event
		wantKey string
		want    string
		ok      bool
	}{
		{
			name:    "forward failed",
			event:   eventbus.Event{Type: eventbus.ForwardFailed, Data: worker.ForwardEvent{Target: "telegram:-1", ArticleID: 7, Reason: "send: boom"}},
			wantKey: "forward.failed:telegram:-1:7",
			want:    "forward to telegram:-1 failed for article 7: send: boom",
			ok:      true,
		},
		{
			name:    "job failed",
			event:   eventbus.Event{Type: eventbus.JobFailed, Data: engine.JobEvent{ID: "j1", Type: "storage", Queue: "storage", Attempts: 3, Error: "db down"}},
			wantKey: "job.failed:j1",
			want:    "job j1 (storage) on storage failed after 3 attempts: db down",
			ok:      true,
		},
		{
			name:    "account banned",
			event:   eventbus.Event{Type: eventbus.AccountBanned, Data: map[string]any{"id": int64(4), "until": until}},
			wantKey: "account.banned:4",
			want:    "account 4 banned until 2026-01-02T03:04:05Z",
			ok:      true,
		},
		{name: "pool counts", event: eventbus.Event{Type: eventbus.AccountPool, Data: map[string]any{"twitter": 2}}},
		{name: "unknown data", event: eventbus.Event{Type: eventbus.JobFailed, Data: 42}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			n, ok := Format(tc.event)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.wantKey, n.Key)
			require.Equal(t, tc.want, n.Text)
		})
	}
}

func TestNotifyDedupsWithinWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	s := New(Config{Target: ops, DedupWindow: time.Minute, QueueSize: 8}, &recorder{}, logx.Nop(),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.Notify(ctx, Notification{Key: "k", Text: "a"}))
	require.NoError(t, s.Notify(ctx, Notification{Key: "k", Text: "b"}))
	require.Len(t, s.queue, 1)

	now = now.Add(2 * time.Minute)
	require.NoError(t, s.Notify(ctx, Notification{Key: "k", Text: "c"}))
	require.Len(t, s.queue, 2)
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()

	s := New(Config{Target: ops, QueueSize: 1}, &recorder{}, logx.Nop())
	ctx := context.Background()
	require.NoError(t, s.Notify(ctx, Notification{Key: "a"}))
	require.ErrorIs(t, s.Notify(ctx, Notification{Key: "b"}), ErrQueueFull)
}

func TestRunDeliversSelectedEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	rec := &recorder{}
	s := New(Config{Target: ops, Events: []string{eventbus.ForwardFailed}, RatePerMin: 6000}, rec, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, bus) }()

	fail := eventbus.Event{Type: eventbus.ForwardFailed, Data: worker.ForwardEvent{Target: "qq:1", ArticleID: 1, Reason: "x"}}
	require.Eventually(t, func() bool {
		bus.Publish(fail)
		bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: engine.JobEvent{ID: "j"}})
		return len(rec.all()) > 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	texts := rec.all()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "qq:1")
	require.Len(t, s.Snapshot(), 1)
}
