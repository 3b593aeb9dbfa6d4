package config

import (
	"time"

	"relaybot/internal/storage"
	"relaybot/internal/task/engine"
	"relaybot/pkg/logx"
	"relaybot/pkg/redisx"
)

// LogConfig converts the logging section for logx.
func (c *Config) LogConfig() logx.Config {
	f := c.Logging.File
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console || !f.Enabled,
		File: logx.FileConfig{
			Enabled:    f.Enabled,
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		},
	}
}

func (c *Config) StorageConfig() storage.Config {
	path := c.Storage.Path
	if path == "" && c.Storage.DSN == "" {
		path = "./data/relaybot.db"
	}
	return storage.Config{
		Driver:       c.Storage.Driver,
		Path:         path,
		DSN:          c.Storage.DSN,
		BusyTimeout:  mustDuration(c.Storage.BusyTimeout, 5*time.Second),
		MaxOpenConns: c.Storage.MaxOpenConns,
	}
}

func (c *Config) RedisConfig() redisx.Config {
	return redisx.Config{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Timeout:  mustDuration(c.Redis.Timeout, 5*time.Second),
	}
}

// RedisPrefix namespaces every redis key.
func (c *Config) RedisPrefix() string {
	if c.Redis.Prefix != "" {
		return c.Redis.Prefix
	}
	return "relaybot"
}

// Per-queue defaults. The forward queue is throttled to respect platform
// rate limits.
var queueDefaults = map[string]engine.Config{
	"storage": {Workers: 4, RetryMax: 3, DefaultTimeout: 2 * time.Minute},
	"forward": {Workers: 2, RatePerMinute: 20, RetryMax: 2, DefaultTimeout: 10 * time.Minute},
	"crawl":   {Workers: 1, RetryMax: 1, DefaultTimeout: 5 * time.Minute},
}

// Engine returns the worker pool settings of the named queue.
func (c *Config) Engine(name string) engine.Config {
	q := c.queue(name)
	out := queueDefaults[name]
	if q.Workers > 0 {
		out.Workers = q.Workers
	}
	if q.RatePerMinute > 0 {
		out.RatePerMinute = q.RatePerMinute
	}
	if q.RetryMax > 0 {
		out.RetryMax = q.RetryMax
	}
	out.DefaultTimeout = mustDuration(q.Timeout, out.DefaultTimeout)
	return out
}

// QueueCapacity is the in-memory buffer size of the named queue.
func (c *Config) QueueCapacity(name string) int {
	if n := c.queue(name).Capacity; n > 0 {
		return n
	}
	return 1024
}

func (c *Config) QueueDedupTTL(name string) time.Duration {
	return mustDuration(c.queue(name).DedupTTL, time.Hour)
}

func (c *Config) queue(name string) QueueConfig {
	switch name {
	case "storage":
		return c.Queues.Storage
	case "forward":
		return c.Queues.Forward
	case "crawl":
		return c.Queues.Crawl
	}
	return QueueConfig{}
}

// Location is the scheduler timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) AccountsRefresh() time.Duration {
	return mustDuration(c.Accounts.RefreshEvery, time.Hour)
}

func (c *Config) AccountsUnban() time.Duration {
	return mustDuration(c.Accounts.UnbanEvery, 5*time.Minute)
}

func (c *Config) SenderBackoff() time.Duration {
	return mustDuration(c.Senders.RetryBackoff, time.Second)
}

func (c *Config) AlertsDedupWindow() time.Duration {
	return mustDuration(c.Alerts.DedupWindow, 10*time.Minute)
}
