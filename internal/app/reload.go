package app

import (
	"reflect"
	"strings"

	"relaybot/internal/config"
	"relaybot/pkg/logx"
)

// changedSections lists the top-level config sections that differ.
func changedSections(old, cur *config.Config) []string {
	if old == nil || cur == nil {
		return nil
	}
	sections := []struct {
		name string
		a, b any
	}{
		{"logging", old.Logging, cur.Logging},
		{"storage", old.Storage, cur.Storage},
		{"redis", old.Redis, cur.Redis},
		{"queues", old.Queues, cur.Queues},
		{"scheduler", old.Scheduler, cur.Scheduler},
		{"accounts", old.Accounts, cur.Accounts},
		{"translator", old.Translator, cur.Translator},
		{"senders", old.Senders, cur.Senders},
		{"forwarders", old.Forwarders, cur.Forwarders},
		{"ops", old.Ops, cur.Ops},
		{"alerts", old.Alerts, cur.Alerts},
	}
	var out []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			out = append(out, s.name)
		}
	}
	return out
}

// applyReload applies the logging section live; every other section only
// takes effect after a restart.
func (a *App) applyReload(cfg *config.Config) {
	changed := changedSections(a.applied, cfg)
	a.applied = cfg
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	var restart []string
	for _, name := range changed {
		if name == "logging" {
			a.logs.Apply(cfg.LogConfig())
			continue
		}
		restart = append(restart, name)
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(changed, ",")))
}
