// Package engine runs bounded worker pools over a job queue.
//
// Each pool pulls from one queue.Queue, paces job starts with a rate limiter,
// dispatches by job type, retries failures with jittered exponential backoff
// and drains gracefully: Stop ends dequeuing while in-flight jobs finish.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/eventbus"
	"relaybot/internal/queue"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	q   queue.Queue

	handlers map[string]Handler
	limiter  *rate.Limiter

	sup *rtsup.Supervisor

	inFlight atomic.Int32
	done     atomic.Uint64
	failed   atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, q queue.Queue, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "engine"), logx.String("queue", q.Name())),
		bus:      bus,
		q:        q,
		handlers: map[string]Handler{},
	}
	if cfg.RatePerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	return s
}

// Handle registers h for jobs of type typ. Call before Start.
func (s *Service) Handle(typ string, h Handler) {
	s.mu.Lock()
	s.handlers[typ] = h
	s.mu.Unlock()
}

func (s *Service) Queue() queue.Queue { return s.q }

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return ErrAlreadyRunning
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		s.sup.GoRestart(fmt.Sprintf("%s.worker.%d", s.q.Name(), idx), func(c context.Context) error {
			return s.worker(c, idx)
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("worker pool started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("rate_per_minute", s.cfg.RatePerMinute))
	return nil
}

// Stop ends dequeuing and waits for in-flight jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	start := time.Now()
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && errors.Is(err, ctx.Err()) {
		s.log.Warn("worker pool stop timed out", logx.Int("in_flight", int(s.inFlight.Load())))
		return
	}
	s.log.Info("worker pool stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.sup != nil
	s.mu.Unlock()

	s.hmu.Lock()
	h := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	return Snapshot{
		Queue:    s.q.Name(),
		Running:  running,
		Workers:  s.cfg.Workers,
		InFlight: int(s.inFlight.Load()),
		Done:     s.done.Load(),
		Failed:   s.failed.Load(),
		History:  h,
	}
}

// Run executes job synchronously with the pool's retry policy. Workers use
// it; tests and one-shot CLI commands may call it directly.
func (s *Service) Run(ctx context.Context, job queue.Job) (Result, error) {
	return s.execOne(ctx, job, nil)
}

func (s *Service) handlerFor(typ string) (Handler, bool) {
	s.mu.Lock()
	h, ok := s.handlers[typ]
	if !ok {
		h, ok = s.handlers["*"]
	}
	s.mu.Unlock()
	return h, ok
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}
