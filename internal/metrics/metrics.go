// Package metrics exposes Prometheus collectors for the relay and feeds
// them from the event bus.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaybot/internal/eventbus"
	"relaybot/internal/task/engine"
	"relaybot/internal/worker"
)

var (
	jobsTotal         *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobAttempts       *prometheus.HistogramVec
	forwardsTotal     *prometheus.CounterVec
	schedulerFirings  *prometheus.CounterVec
	accountsAvailable *prometheus.GaugeVec
	accountBans       prometheus.Counter

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_jobs_total",
				Help: "Jobs processed, labeled by queue and outcome.",
			},
			[]string{"queue", "outcome"},
		)

		jobDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_job_duration_seconds",
				Help:    "Job run time including retries, labeled by queue.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"queue"},
		)

		jobAttempts = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_job_attempts",
				Help:    "Attempts needed per job, labeled by queue.",
				Buckets: []float64{1, 2, 3, 5, 8},
			},
			[]string{"queue"},
		)

		forwardsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_forwards_total",
				Help: "Article deliveries, labeled by target platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		schedulerFirings = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_scheduler_firings_total",
				Help: "Scheduled task firings, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		accountsAvailable = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relay_accounts_available",
				Help: "Cached available accounts, labeled by platform.",
			},
			[]string{"platform"},
		)

		accountBans = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_account_bans_total",
				Help: "Accounts auto-banned after repeated failures.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observe applies one bus event to the collectors.
func Observe(e eventbus.Event) {
	Init()
	switch e.Type {
	case eventbus.JobFinished, eventbus.JobFailed:
		ev, ok := jobEvent(e.Data)
		if !ok {
			return
		}
		outcome := "success"
		switch {
		case e.Type == eventbus.JobFailed:
			outcome = "failed"
		case !ev.Result.Success:
			outcome = "partial"
		}
		jobsTotal.WithLabelValues(ev.Queue, outcome).Inc()
		jobDuration.WithLabelValues(ev.Queue).Observe(ev.Duration.Seconds())
		jobAttempts.WithLabelValues(ev.Queue).Observe(float64(ev.Attempts))

	case eventbus.ForwardSent, eventbus.ForwardFailed, eventbus.ForwardBlock:
		ev, ok := e.Data.(worker.ForwardEvent)
		if !ok {
			return
		}
		outcome := map[string]string{
			eventbus.ForwardSent:   "sent",
			eventbus.ForwardFailed: "failed",
			eventbus.ForwardBlock:  "blocked",
		}[e.Type]
		forwardsTotal.WithLabelValues(ev.Platform, outcome).Inc()

	case eventbus.JobEnqueued, eventbus.JobSkipped:
		if m, ok := e.Data.(map[string]string); ok && m["outcome"] != "" {
			schedulerFirings.WithLabelValues(m["outcome"]).Inc()
		}

	case eventbus.AccountPool:
		if m, ok := e.Data.(map[string]int); ok {
			accountsAvailable.Reset()
			for platform, n := range m {
				accountsAvailable.WithLabelValues(platform).Set(float64(n))
			}
		}

	case eventbus.AccountBanned:
		accountBans.Inc()
	}
}

func jobEvent(v any) (engine.JobEvent, bool) {
	switch ev := v.(type) {
	case engine.JobEvent:
		return ev, true
	case *engine.JobEvent:
		if ev != nil {
			return *ev, true
		}
	}
	return engine.JobEvent{}, false
}

// Consume feeds bus events into the collectors until ctx ends.
func Consume(ctx context.Context, bus eventbus.Bus) error {
	Init()
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			Observe(e)
		}
	}
}
