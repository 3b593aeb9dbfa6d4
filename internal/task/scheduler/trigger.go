package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/eventbus"
	"relaybot/internal/queue"
	"relaybot/internal/slot"
	"relaybot/pkg/logx"
)

// Fire performs one firing of def: job id, lock, enqueue. The lock is held
// for the slot width and released only when enqueueing fails, so later
// firings in the same slot are skipped even after the job is consumed.
func (s *Service) Fire(ctx context.Context, def TaskDef) (Outcome, error) {
	now := s.now()
	log := s.log.With(logx.String("task", def.ID))

	jobID := slot.JobID(def.Type, def.ID+"\x00"+string(def.Config), def.Schedule, now)
	width := slot.Width(def.Schedule, now)
	key := s.cfg.LockPrefix + jobID
	token := uuid.NewString()

	held, err := s.locker.Acquire(ctx, key, token, width)
	if err != nil {
		log.Warn("lock acquire failed; slot skipped", logx.Err(err))
		return s.outcome(def, jobID, OutcomeFailed), err
	}
	if !held {
		log.Debug("slot owned elsewhere", logx.String("job", jobID))
		return s.outcome(def, jobID, OutcomeLocked), nil
	}

	job, err := queue.NewJob(jobID, def.Type, TriggerPayload{
		TaskID:   def.ID,
		TaskType: def.Type,
		Cron:     def.Schedule,
		Config:   def.Config,
	})
	if err == nil {
		var ok bool
		ok, err = s.queues[def.Queue].Enqueue(ctx, job)
		if err == nil && !ok {
			log.Debug("duplicate job id dropped", logx.String("job", jobID))
			return s.outcome(def, jobID, OutcomeDuplicate), nil
		}
	}
	if err != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if _, rerr := s.locker.Release(rctx, key, token); rerr != nil {
			log.Warn("lock release failed", logx.Err(rerr))
		}
		cancel()
		log.Warn("enqueue failed; slot skipped", logx.String("job", jobID), logx.Err(err))
		return s.outcome(def, jobID, OutcomeFailed), err
	}

	log.Info("job enqueued", logx.String("job", jobID), logx.String("queue", def.Queue), logx.Duration("slot", width))
	return s.outcome(def, jobID, OutcomeEnqueued), nil
}

func (s *Service) outcome(def TaskDef, jobID string, o Outcome) Outcome {
	typ := eventbus.JobSkipped
	if o == OutcomeEnqueued {
		typ = eventbus.JobEnqueued
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: map[string]string{
		"task": def.ID, "job": jobID, "queue": def.Queue, "outcome": string(o),
	}})
	return o
}
