package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Timezone   string // IANA TZ, e.g. "Asia/Tokyo"
	LockPrefix string
	Tasks      []TaskDef
}

// TaskDef is one scheduled scrape (or other) task.
type TaskDef struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Queue    string          `json:"queue"`
	Schedule string          `json:"schedule"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// TriggerPayload is the job payload enqueued for a TaskDef firing.
type TriggerPayload struct {
	TaskID   string          `json:"task_id"`
	TaskType string          `json:"task_type"`
	Cron     string          `json:"cron"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// Outcome describes what a single firing did.
type Outcome string

const (
	OutcomeEnqueued  Outcome = "enqueued"
	OutcomeLocked    Outcome = "locked"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

type entry struct {
	name    string
	spec    string
	entryID cron.EntryID
	fire    func(ctx context.Context)
}

type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}
