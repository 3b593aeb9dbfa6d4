// Package scheduler fires configured tasks on cron schedules and turns each
// firing into at most one queued job per time slot.
//
// A firing computes a slot-derived job id, takes a distributed lock on it and
// only then enqueues. Losing the lock means another instance owns the slot;
// the firing is skipped, not retried.
package scheduler
