package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/queue"
	"relaybot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, idx int) error {
	// Per-worker RNG keeps retry jitter off the global lock.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return context.Canceled
			}
		}
		job, err := s.q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return context.Canceled
			}
			return err
		}

		// In-flight jobs survive Stop; only dequeuing is cancelled.
		s.inFlight.Add(1)
		_, _ = s.execOne(context.WithoutCancel(ctx), job, rng)
		s.inFlight.Add(-1)
	}
}

func (s *Service) execOne(ctx context.Context, job queue.Job, rng *rand.Rand) (Result, error) {
	start := time.Now()
	var queueDelay time.Duration
	if !job.EnqueuedAt.IsZero() {
		queueDelay = max(start.Sub(job.EnqueuedAt), 0)
	}
	ev := JobEvent{Queue: s.q.Name(), ID: job.ID, Type: job.Type, QueueDelay: queueDelay}
	log := s.log.With(logx.String("job", job.ID), logx.String("type", job.Type))

	h, ok := s.handlerFor(job.Type)
	if !ok {
		err := fmt.Errorf("%w %q", ErrNoHandler, job.Type)
		log.Error("job dropped", logx.Err(err))
		s.finish(ev, start, 0, Result{Error: err.Error()}, err)
		return Result{}, err
	}

	log.Debug("job started", logx.Duration("queue_delay", queueDelay))
	s.bus.Publish(eventbus.Event{Type: eventbus.JobStarted, Time: start, Data: ev})

	var (
		res      Result
		err      error
		attempts int
	)
	maxAttempts := 1 + s.cfg.RetryMax
retry:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		res, err = s.attempt(ctx, h, job)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt == maxAttempts {
			break
		}
		delay := s.backoffDelay(attempt, err, rng)
		log.Warn("job attempt failed",
			logx.Int("attempt", attempt),
			logx.Int("attempts_left", maxAttempts-attempt),
			logx.Duration("retry_in", delay),
			logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
			break retry
		case <-t.C:
		}
	}

	if err != nil && res.Error == "" {
		res.Error = err.Error()
	}
	s.finish(ev, start, attempts, res, err)
	return res, err
}

func (s *Service) attempt(ctx context.Context, h Handler, job queue.Job) (res Result, err error) {
	if s.cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DefaultTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("job", job.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}

func (s *Service) finish(ev JobEvent, start time.Time, attempts int, res Result, err error) {
	ev.Duration = time.Since(start)
	ev.Attempts = attempts
	ev.Result = res
	item := HistoryItem{ID: ev.ID, Type: ev.Type, Started: start, QueueDelay: ev.QueueDelay,
		Duration: ev.Duration, Attempts: attempts, Result: res}

	if err != nil {
		s.failed.Add(1)
		ev.Error = err.Error()
		item.Error = ev.Error
		s.log.Warn("job failed", logx.String("job", ev.ID), logx.String("type", ev.Type),
			logx.Int("attempts", attempts), logx.Duration("dur", ev.Duration), logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: ev})
	} else {
		s.done.Add(1)
		lvl := s.log.Debug
		if ev.Duration >= time.Second {
			lvl = s.log.Info
		}
		lvl("job finished", logx.String("job", ev.ID), logx.String("type", ev.Type),
			logx.Bool("success", res.Success), logx.Int("count", res.Count),
			logx.Int("attempts", attempts), logx.Duration("dur", ev.Duration))
		s.bus.Publish(eventbus.Event{Type: eventbus.JobFinished, Data: ev})
	}
	s.record(item)
}

func (s *Service) backoffDelay(retry int, err error, rng *rand.Rand) time.Duration {
	maxD := s.cfg.RetryMaxDelay
	var d time.Duration

	var ra RetryAfterError
	if errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = s.cfg.RetryBase
		for i := 1; i < retry && d < maxD; i++ {
			d *= 2
		}
	}
	if d > maxD {
		d = maxD
	}
	if rng != nil && d > 0 {
		r := (rng.Float64()*2 - 1) * s.cfg.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
	}
	return min(max(d, 0), maxD)
}
