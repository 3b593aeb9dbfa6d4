package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/forward"
	"relaybot/internal/task/scheduler"
	"relaybot/internal/translate"
	"relaybot/pkg/logx"
)

// Queues with an in-process consumer or a scheduler producer.
var queueNames = []string{"storage", "forward", "crawl"}

var alertEvents = []string{
	eventbus.AccountBanned,
	eventbus.ForwardFailed,
	eventbus.ForwardBlock,
	eventbus.JobFailed,
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	duration := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}

	switch cfg.Storage.Driver {
	case "", "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(errors.New("storage.dsn: required for postgres"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	duration("storage.busy_timeout", cfg.Storage.BusyTimeout)
	duration("redis.timeout", cfg.Redis.Timeout)

	for _, name := range queueNames {
		q := cfg.queue(name)
		duration("queues."+name+".timeout", q.Timeout)
		duration("queues."+name+".dedup_ttl", q.DedupTTL)
		if q.Workers < 0 || q.RatePerMinute < 0 || q.RetryMax < 0 || q.Capacity < 0 {
			add(fmt.Errorf("queues.%s: values must be >= 0", name))
		}
	}

	if tz := cfg.Scheduler.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	seen := map[string]bool{}
	for i, t := range cfg.Scheduler.Tasks {
		path := fmt.Sprintf("scheduler.tasks[%d]", i)
		if strings.TrimSpace(t.ID) == "" {
			add(fmt.Errorf("%s.id: required", path))
		} else if seen[t.ID] {
			add(fmt.Errorf("%s.id: duplicate %q", path, t.ID))
		}
		seen[t.ID] = true
		if _, err := scheduler.ParseSchedule(t.Schedule); err != nil {
			add(fmt.Errorf("%s.schedule: %w", path, err))
		}
		if !knownQueue(t.Queue) {
			add(fmt.Errorf("%s.queue: unknown queue %q", path, t.Queue))
		}
	}

	duration("accounts.refresh_every", cfg.Accounts.RefreshEvery)
	duration("accounts.unban_every", cfg.Accounts.UnbanEvery)

	if cfg.Translator.Provider != "" {
		if _, err := translate.New(cfg.Translator); err != nil {
			add(fmt.Errorf("translator: %w", err))
		}
	}

	duration("senders.retry_backoff", cfg.Senders.RetryBackoff)
	if cfg.Senders.RetryAttempts < 0 {
		add(errors.New("senders.retry_attempts: must be >= 0"))
	}

	duration("alerts.dedup_window", cfg.Alerts.DedupWindow)
	if cfg.Alerts.Enabled {
		if err := cfg.Alerts.Target.Validate(); err != nil {
			add(fmt.Errorf("alerts.target: %w", err))
		}
		for _, e := range cfg.Alerts.Events {
			if !slices.Contains(alertEvents, e) {
				add(fmt.Errorf("alerts.events: unknown event %q", e))
			}
		}
	}

	for name, fw := range cfg.Forwarders {
		add(ValidateForwarder("forwarders."+name, fw))
	}
	return errors.Join(errs...)
}

// ValidateForwarder checks targets, render mode and every target pipeline.
func ValidateForwarder(path string, fw forward.ForwarderConfig) error {
	var errs []error
	switch fw.RenderMode {
	case "", forward.RenderText, forward.RenderImage, forward.RenderImageText:
	default:
		errs = append(errs, fmt.Errorf("%s.render_mode: unknown mode %q", path, fw.RenderMode))
	}
	if fw.MediaOpts.Max < 0 {
		errs = append(errs, fmt.Errorf("%s.media_opts.max: must be >= 0", path))
	}
	for i, t := range fw.Targets {
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s.targets[%d]: %w", path, i, err))
			continue
		}
		if _, err := forward.Build(t.Pipeline, nil, logx.Nop()); err != nil {
			errs = append(errs, fmt.Errorf("%s.targets[%d].pipeline_config: %w", path, i, err))
		}
	}
	return errors.Join(errs...)
}

func knownQueue(name string) bool { return slices.Contains(queueNames, name) }
