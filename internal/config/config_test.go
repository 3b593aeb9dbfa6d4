package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/forward"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./relay.db
queues:
  forward:
    workers: 3
    timeout: 1d
scheduler:
  timezone: UTC
  tasks:
    - id: crawl-news
      type: article
      queue: crawl
      schedule: "*/5 * * * *"
forwarders:
  news:
    render_mode: text
    targets:
      - platform: telegram
        id: "-1001"
        pipeline_config:
          block_until: 2h
          filter_keywords: [ad]
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("relay.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Scheduler.Tasks, 1)
	require.Equal(t, "crawl", cfg.Scheduler.Tasks[0].Queue)
	require.Equal(t, 24*time.Hour, cfg.Engine("forward").DefaultTimeout)
	require.Equal(t, 3, cfg.Engine("forward").Workers)
	require.Equal(t, 20, cfg.Engine("forward").RatePerMinute)
	require.Equal(t, "-1001", cfg.Forwarders["news"].Targets[0].ID)

	js, err := Decode("relay.json", []byte(`{"logging":{"level":"info"},"storage":{"driver":"postgres","dsn":"postgres://x"}}`))
	require.NoError(t, err)
	require.NoError(t, Validate(js))
	require.Equal(t, "postgres", js.StorageConfig().Driver)
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		data string
	}{
		{"unknown field json", "c.json", `{"logging":{"level":"info","colour":true}}`},
		{"unknown field yaml", "c.yml", "storage:\n  drivr: sqlite\n"},
		{"trailing data", "c.json", `{"logging":{}} {"logging":{}}`},
		{"broken yaml", "c.yaml", "logging: [\n"},
		{"empty", "c.yaml", "  \n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.file, []byte(tc.data))
			require.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"bad queue duration", func(c *Config) { c.Queues.Storage.Timeout = "soon" }, "queues.storage.timeout"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad schedule", func(c *Config) { c.Scheduler.Tasks[0].Schedule = "whenever" }, "scheduler.tasks[0].schedule"},
		{"unknown queue", func(c *Config) { c.Scheduler.Tasks[0].Queue = "email" }, "scheduler.tasks[0].queue"},
		{"duplicate task", func(c *Config) { c.Scheduler.Tasks = append(c.Scheduler.Tasks, c.Scheduler.Tasks[0]) }, "duplicate"},
		{"unknown translator", func(c *Config) { c.Translator.Provider = "babelfish" }, "translator"},
		{"bad render mode", func(c *Config) {
			fw := c.Forwarders["news"]
			fw.RenderMode = "video"
			c.Forwarders["news"] = fw
		}, "render_mode"},
		{"bad target", func(c *Config) {
			fw := c.Forwarders["news"]
			fw.Targets[0].Platform = "fax"
			c.Forwarders["news"] = fw
		}, "targets[0]"},
		{"bad pipeline", func(c *Config) {
			fw := c.Forwarders["news"]
			fw.Targets[0].Pipeline.BlockRules = append(fw.Targets[0].Pipeline.BlockRules, forwardRule("sometimes"))
			c.Forwarders["news"] = fw
		}, "pipeline_config"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode("relay.yaml", []byte(sampleYAML))
			require.NoError(t, err)
			tc.mutate(cfg)
			err = Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{
		"":      0,
		"90s":   90 * time.Second,
		"1d":    24 * time.Hour,
		"2d12h": 60 * time.Hour,
	}
	for raw, want := range cases {
		got, err := ParseDurationField("x", raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"xd", "-5m", "1w"} {
		_, err := ParseDurationField("x", raw)
		require.Error(t, err, raw)
	}
}

func TestManagerWatchReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	m := NewManager(path)
	m.debounce = 50 * time.Millisecond
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Invalid content is rejected and never published.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600))
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, "debug", m.Get().Logging.Level)

	updated := []byte(sampleYAML + "\naccounts:\n  unban_every: 1m\n")
	require.NoError(t, os.WriteFile(path, updated, 0o600))

	timeout := time.After(5 * time.Second)
	for {
		var got *Config
		select {
		case got = <-ch:
		case <-timeout:
			t.Fatal("config reload not published")
		}
		require.NotEqual(t, "loud", got.Logging.Level)
		if got.Accounts.UnbanEvery == "1m" {
			require.Equal(t, time.Minute, got.AccountsUnban())
			break
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func TestManagerReloadSkipsUnchanged(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relay.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600))

	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	require.False(t, m.reload(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"warn"}}`), 0o600))
	require.True(t, m.reload(context.Background()))
	require.Equal(t, "warn", m.Get().Logging.Level)
}

func forwardRule(blockType string) forward.BlockRule {
	return forward.BlockRule{BlockType: blockType}
}

func TestValidateAlerts(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Alerts.Enabled = true
	cfg.Alerts.Target = forward.TargetConfig{Platform: forward.PlatformTelegram, ID: "-100"}
	require.NoError(t, Validate(cfg))
	require.Equal(t, 10*time.Minute, cfg.AlertsDedupWindow())

	cfg.Alerts.Events = []string{"job.failed", "moon.landing"}
	cfg.Alerts.Target.Platform = "pager"
	err := Validate(cfg)
	require.ErrorContains(t, err, "alerts.target")
	require.ErrorContains(t, err, "moon.landing")
}
