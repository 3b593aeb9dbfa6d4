package config

import (
	"relaybot/internal/forward"
	"relaybot/internal/task/scheduler"
	"relaybot/internal/translate"
)

// Config is the whole relaybot configuration file.
//
// All durations are Go duration strings ("500ms", "10s", "1m"); "d" is
// accepted for days.
type Config struct {
	Logging    LoggingConfig                      `json:"logging"`
	Storage    StorageConfig                      `json:"storage"`
	Redis      RedisConfig                        `json:"redis,omitempty"`
	Queues     QueuesConfig                       `json:"queues,omitempty"`
	Scheduler  SchedulerConfig                    `json:"scheduler,omitempty"`
	Accounts   AccountsConfig                     `json:"accounts,omitempty"`
	Translator translate.Config                   `json:"translator,omitempty"`
	Senders    SendersConfig                      `json:"senders,omitempty"`
	Forwarders map[string]forward.ForwarderConfig `json:"forwarders,omitempty"`
	Ops        OpsConfig                          `json:"ops,omitempty"`
	Alerts     AlertsConfig                       `json:"alerts,omitempty"`
}

// LoggingConfig is hot-reloadable.
type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb,omitempty"`
		MaxBackups int    `json:"max_backups,omitempty"`
		MaxAgeDays int    `json:"max_age_days,omitempty"`
		Compress   bool   `json:"compress,omitempty"`
	} `json:"file,omitempty"`
}

// StorageConfig selects the relational store.
//
// Defaults:
//   - driver: sqlite
//   - path: ./data/relaybot.db
type StorageConfig struct {
	Driver       string `json:"driver,omitempty"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// RedisConfig enables the redis lock, queues and cooldown cache. An empty
// addr keeps everything in process.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type QueuesConfig struct {
	Storage QueueConfig `json:"storage,omitempty"`
	Forward QueueConfig `json:"forward,omitempty"`
	Crawl   QueueConfig `json:"crawl,omitempty"`
}

// QueueConfig sizes one queue and its worker pool.
type QueueConfig struct {
	Workers       int    `json:"workers,omitempty"`
	RatePerMinute int    `json:"rate_per_minute,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	Capacity      int    `json:"capacity,omitempty"`
	DedupTTL      string `json:"dedup_ttl,omitempty"`
}

type SchedulerConfig struct {
	Timezone   string              `json:"timezone,omitempty"`
	LockPrefix string              `json:"lock_prefix,omitempty"`
	Tasks      []scheduler.TaskDef `json:"tasks,omitempty"`
}

type AccountsConfig struct {
	RefreshEvery string `json:"refresh_every,omitempty"`
	UnbanEvery   string `json:"unban_every,omitempty"`
}

// SendersConfig holds default credentials; targets may override them.
type SendersConfig struct {
	Telegram struct {
		Token  string `json:"token,omitempty"`
		APIURL string `json:"api_url,omitempty"`
	} `json:"telegram,omitempty"`
	QQ struct {
		URL         string `json:"url,omitempty"`
		AccessToken string `json:"access_token,omitempty"`
	} `json:"qq,omitempty"`
	Bilibili struct {
		SESSDATA string `json:"sessdata,omitempty"`
		BiliJCT  string `json:"bili_jct,omitempty"`
	} `json:"bilibili,omitempty"`
	RetryAttempts int    `json:"retry_attempts,omitempty"`
	RetryBackoff  string `json:"retry_backoff,omitempty"`
}

type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// AlertsConfig routes operator alerts to one target.
type AlertsConfig struct {
	Enabled       bool                 `json:"enabled"`
	Target        forward.TargetConfig `json:"target"`
	Events        []string             `json:"events,omitempty"`
	DedupWindow   string               `json:"dedup_window,omitempty"`
	RatePerMinute int                  `json:"rate_per_minute,omitempty"`
}
