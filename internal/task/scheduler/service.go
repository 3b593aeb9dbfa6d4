package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/eventbus"
	"relaybot/internal/lock"
	"relaybot/internal/queue"
	"relaybot/internal/slot"
	"relaybot/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	locker lock.Locker
	queues map[string]queue.Queue
	now    func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	c       *cron.Cron
	entries []*entry
}

func New(cfg Config, locker lock.Locker, queues map[string]queue.Queue, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if cfg.LockPrefix == "" {
		cfg.LockPrefix = "relaybot:lock:"
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		locker: locker,
		queues: queues,
		now:    time.Now,
	}
}

// AddTask registers a configured task. Invalid schedules and unknown queues
// are configuration errors.
func (s *Service) AddTask(def TaskDef) error {
	if strings.TrimSpace(def.ID) == "" {
		return errors.New("task id required")
	}
	if def.Type == "" {
		def.Type = "crawl"
	}
	if def.Queue == "" {
		def.Queue = "crawl"
	}
	spec, err := ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("task %s: %w", def.ID, err)
	}
	if _, ok := s.queues[def.Queue]; !ok {
		return fmt.Errorf("task %s: unknown queue %q", def.ID, def.Queue)
	}
	def.Schedule = spec
	return s.add(&entry{
		name: "task:" + def.ID,
		spec: spec,
		fire: func(ctx context.Context) { _, _ = s.Fire(ctx, def) },
	})
}

// AddInterval runs fn every interval on this instance only. Used for
// process-local maintenance such as the account unban sweep.
func (s *Service) AddInterval(name string, every time.Duration, fn func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("%s: interval must be > 0", name)
	}
	return s.add(&entry{
		name: name,
		spec: "@every " + every.String(),
		fire: func(ctx context.Context) {
			if err := fn(ctx); err != nil {
				s.log.Warn("interval task failed", logx.String("name", name), logx.Err(err))
			}
		},
	})
}

func (s *Service) add(e *entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, old := range s.entries {
		if old.name == e.name {
			return fmt.Errorf("schedule %q already registered", e.name)
		}
	}
	s.entries = append(s.entries, e)
	if s.c != nil {
		return s.registerLocked(e)
	}
	return nil
}

func (s *Service) registerLocked(e *entry) error {
	id, err := s.c.AddFunc(e.spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		e.fire(ctx)
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", e.name, err)
	}
	e.entryID = id
	s.log.Debug("schedule registered", logx.String("name", e.name), logx.String("spec", e.spec),
		logx.Time("next", s.c.Entry(id).Next))
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler timezone: %w", err)
		}
		loc = l
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(slot.Parser), cron.WithLocation(loc))
	for _, e := range s.entries {
		if err := s.registerLocked(e); err != nil {
			return err
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.entries)))
	return nil
}

// Stop stops firing and waits for running firings until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := ScheduleInfo{Name: e.name, Spec: e.spec}
		if s.c != nil && e.entryID != 0 {
			ce := s.c.Entry(e.entryID)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out = append(out, info)
	}
	return out
}
