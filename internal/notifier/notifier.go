package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/eventbus"
	"relaybot/internal/forward"
	"relaybot/internal/forward/sender"
	"relaybot/internal/task/engine"
	"relaybot/internal/worker"
	"relaybot/pkg/logx"
)

var ErrQueueFull = errors.New("notifier queue full")

// DefaultEvents are alerted when Config.Events is empty.
var DefaultEvents = []string{eventbus.AccountBanned, eventbus.ForwardFailed, eventbus.JobFailed}

const maxAlertRunes = 1000

type Config struct {
	Target      forward.TargetConfig
	Events      []string
	DedupWindow time.Duration // 0 means 10m
	RatePerMin  int           // 0 means 20
	QueueSize   int           // 0 means 128
}

// Notification is one alert.
type Notification struct {
	Key  string
	Text string
}

// DedupStore persists dedup keys so restarts do not repeat alerts.
type DedupStore interface {
	ClaimDedup(ctx context.Context, key string, now, until time.Time) (bool, error)
}

type HistoryItem struct {
	At   time.Time
	Text string
	Err  string
}

type Service struct {
	cfg     Config
	send    sender.Sender
	log     logx.Logger
	store   DedupStore
	limiter *rate.Limiter
	queue   chan Notification
	events  map[string]bool
	now     func() time.Time

	mu      sync.Mutex
	seen    map[string]time.Time
	history []HistoryItem
}

type Option func(*Service)

func WithDedupStore(st DedupStore) Option { return func(s *Service) { s.store = st } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(cfg Config, send sender.Sender, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 10 * time.Minute
	}
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents
	}
	s := &Service{
		cfg:     cfg,
		send:    send,
		log:     log.With(logx.String("comp", "notifier")),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMin)), 3),
		queue:   make(chan Notification, cfg.QueueSize),
		events:  map[string]bool{},
		seen:    map[string]time.Time{},
		now:     time.Now,
	}
	for _, e := range cfg.Events {
		s.events[e] = true
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Notify queues n unless its key was alerted inside the dedup window.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if n.Key != "" {
		ok, err := s.claim(ctx, n.Key)
		if err != nil {
			s.log.Warn("alert dedup failed", logx.String("key", n.Key), logx.Err(err))
		} else if !ok {
			return nil
		}
	}
	select {
	case s.queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) claim(ctx context.Context, key string) (bool, error) {
	now := s.now()
	if s.store != nil {
		return s.store.ClaimDedup(ctx, "alert:"+key, now, now.Add(s.cfg.DedupWindow))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if until, ok := s.seen[key]; ok && now.Before(until) {
		return false, nil
	}
	s.seen[key] = now.Add(s.cfg.DedupWindow)
	if len(s.seen) > 2000 {
		for k, until := range s.seen {
			if !now.Before(until) {
				delete(s.seen, k)
			}
		}
	}
	return true, nil
}

// Run converts bus events into alerts and delivers them until ctx ends.
func (s *Service) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.deliverLoop(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if !s.events[e.Type] {
				continue
			}
			n, ok := Format(e)
			if !ok {
				continue
			}
			if err := s.Notify(ctx, n); err != nil {
				s.log.Warn("alert dropped", logx.String("key", n.Key), logx.Err(err))
			}
		}
	}
}

func (s *Service) deliverLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			err := s.send.Send(ctx, s.cfg.Target, sender.Message{Chunks: []string{truncate(n.Text)}})
			if err != nil {
				s.log.Warn("alert send failed", logx.String("key", n.Key), logx.Err(err))
			}
			s.record(n.Text, err)
		}
	}
}

func (s *Service) record(text string, err error) {
	item := HistoryItem{At: s.now(), Text: text}
	if err != nil {
		item.Err = err.Error()
	}
	s.mu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.mu.Unlock()
}

// Snapshot returns recently delivered alerts, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// Format renders an event; ok is false for events without an alert form.
func Format(e eventbus.Event) (Notification, bool) {
	switch d := e.Data.(type) {
	case worker.ForwardEvent:
		return Notification{
			Key:  fmt.Sprintf("%s:%s:%d", e.Type, d.Target, d.ArticleID),
			Text: fmt.Sprintf("forward to %s failed for article %d: %s", d.Target, d.ArticleID, d.Reason),
		}, true
	case engine.JobEvent:
		return Notification{
			Key:  e.Type + ":" + d.ID,
			Text: fmt.Sprintf("job %s (%s) on %s failed after %d attempts: %s", d.ID, d.Type, d.Queue, d.Attempts, d.Error),
		}, true
	case map[string]any:
		if e.Type != eventbus.AccountBanned {
			return Notification{}, false
		}
		text := fmt.Sprintf("account %v banned", d["id"])
		if until, ok := d["until"].(time.Time); ok && !until.IsZero() {
			text += " until " + until.Format(time.RFC3339)
		}
		return Notification{Key: fmt.Sprintf("%s:%v", e.Type, d["id"]), Text: text}, true
	}
	return Notification{}, false
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxAlertRunes {
		return s
	}
	return string(r[:maxAlertRunes-3]) + "..."
}
