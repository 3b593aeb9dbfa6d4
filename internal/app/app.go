// Package app wires configuration, storage, queues, workers, the scheduler
// and the ops server into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"relaybot/internal/accountpool"
	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/forward"
	"relaybot/internal/forward/sender"
	"relaybot/internal/lock"
	"relaybot/internal/metrics"
	"relaybot/internal/notifier"
	"relaybot/internal/observability/ops"
	"relaybot/internal/queue"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	"relaybot/internal/task/engine"
	"relaybot/internal/task/scheduler"
	"relaybot/internal/worker"
	"relaybot/pkg/logx"
	"relaybot/pkg/redisx"
)

// Queue names.
const (
	QueueStorage = "storage"
	QueueForward = "forward"
	QueueCrawl   = "crawl"
)

type App struct {
	cfgm    *config.Manager
	applied *config.Config
	sup     *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.SQLStore
	rdb   *redis.Client

	queues  map[string]queue.Queue
	engines map[string]*engine.Service
	sched   *scheduler.Service
	pool    *accountpool.Pool
	ops     *ops.Server
	alerts  *notifier.Service
}

// New loads the config file and builds every component. Nothing runs until
// Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(ctx, cfgm, cfg)
}

func build(ctx context.Context, cfgm *config.Manager, cfg *config.Config) (_ *App, err error) {
	logSvc, log := logx.New(cfg.LogConfig())
	a := &App{
		cfgm:    cfgm,
		applied: cfg,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
	}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	a.store, err = storage.Open(ctx, cfg.StorageConfig(), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	var (
		locker   lock.Locker
		cooldown forward.Cooldown
	)
	rcfg := cfg.RedisConfig()
	if rcfg.Enabled() {
		a.rdb, err = redisx.New(ctx, rcfg)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		locker = lock.NewRedis(a.rdb)
		cooldown = forward.NewRedisCooldown(a.rdb, cfg.RedisPrefix())
		a.log.Info("redis enabled", logx.String("addr", rcfg.Addr))
	} else {
		locker = lock.NewMemory()
		cooldown = forward.NewStoreCooldown(a.store)
	}

	a.queues = make(map[string]queue.Queue, 3)
	for _, name := range []string{QueueStorage, QueueForward, QueueCrawl} {
		if a.rdb != nil {
			a.queues[name] = queue.NewRedis(a.rdb, cfg.RedisPrefix(), name, cfg.QueueDedupTTL(name))
		} else {
			a.queues[name] = queue.NewMemory(name, cfg.QueueCapacity(name), cfg.QueueDedupTTL(name))
		}
	}

	senders := buildSenders(cfg, log)

	if cfg.Alerts.Enabled {
		s, err := senders.Get(cfg.Alerts.Target.Platform)
		if err != nil {
			return nil, fmt.Errorf("alerts: %w", err)
		}
		a.alerts = notifier.New(notifier.Config{
			Target:      cfg.Alerts.Target,
			Events:      cfg.Alerts.Events,
			DedupWindow: cfg.AlertsDedupWindow(),
			RatePerMin:  cfg.Alerts.RatePerMinute,
		}, s, log, notifier.WithDedupStore(a.store))
	}

	storageWorker := worker.NewStorage(a.store, log,
		worker.WithForwardQueue(a.queues[QueueForward]),
		worker.WithDefaultTranslator(cfg.Translator),
		worker.WithForwarders(cfg.Forwarders),
	)
	forwarder := worker.NewForwarder(a.store, senders, log, a.bus,
		worker.WithCooldown(cooldown),
		worker.WithLocation(cfg.Location()),
	)

	// Crawl jobs are consumed by the external scraping layer.
	a.engines = map[string]*engine.Service{
		QueueStorage: engine.New(cfg.Engine(QueueStorage), a.queues[QueueStorage], log, a.bus),
		QueueForward: engine.New(cfg.Engine(QueueForward), a.queues[QueueForward], log, a.bus),
	}
	a.engines[QueueStorage].Handle(worker.TypeStorage, storageWorker)
	a.engines[QueueForward].Handle(worker.TypeForward, forwarder)

	a.pool = accountpool.New(a.store, log, a.bus, accountpool.WithRefreshEvery(cfg.AccountsRefresh()))

	a.sched = scheduler.New(scheduler.Config{
		Timezone:   cfg.Scheduler.Timezone,
		LockPrefix: cfg.Scheduler.LockPrefix,
	}, locker, a.queues, log, a.bus)
	for _, def := range cfg.Scheduler.Tasks {
		if err := a.sched.AddTask(def); err != nil {
			return nil, fmt.Errorf("scheduler task %q: %w", def.ID, err)
		}
	}
	if err := a.sched.AddInterval("accounts.unban", cfg.AccountsUnban(), func(ctx context.Context) error {
		_, err := a.pool.UnbanExpiredAccounts(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	if cfg.Ops.Enabled {
		a.ops = ops.New(ops.Config{
			Addr:          cfg.Ops.Addr,
			Token:         cfg.Ops.Token,
			AllowInsecure: cfg.Ops.AllowInsecure,
		}, log, a.opsOptions()...)
	}
	return a, nil
}

func buildSenders(cfg *config.Config, log logx.Logger) *sender.Registry {
	attempts := cfg.Senders.RetryAttempts
	if attempts <= 0 {
		attempts = sender.DefaultAttempts
	}
	backoff := cfg.SenderBackoff()
	wrap := func(s sender.Sender) sender.Sender { return sender.WithRetry(s, attempts, backoff, log) }

	sc := cfg.Senders
	return sender.NewRegistry(
		wrap(sender.NewTelegram(sender.TelegramConfig{Token: sc.Telegram.Token, APIURL: sc.Telegram.APIURL}, log)),
		wrap(sender.NewQQ(sender.QQConfig{URL: sc.QQ.URL, AccessToken: sc.QQ.AccessToken}, log)),
		wrap(sender.NewBilibili(sender.BilibiliConfig{SESSDATA: sc.Bilibili.SESSDATA, BiliJCT: sc.Bilibili.BiliJCT}, log)),
		sender.NewNone(log),
	)
}

func (a *App) opsOptions() []ops.Option {
	opts := []ops.Option{
		ops.WithCheck("storage", a.store.Ping),
		ops.WithStatus(func() any { return a.Status() }),
	}
	if a.rdb != nil {
		opts = append(opts, ops.WithCheck("redis", func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		}))
	}
	return opts
}

// Store exposes the article store to operator commands.
func (a *App) Store() *storage.SQLStore { return a.store }

func (a *App) Pool() *accountpool.Pool { return a.pool }

func (a *App) Queue(name string) queue.Queue { return a.queues[name] }

// Done is closed when the app supervisor is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.sup.Go("metrics.consume", func(ctx context.Context) error { return metrics.Consume(ctx, a.bus) })
	if a.alerts != nil {
		a.sup.Go("notifier", func(ctx context.Context) error { return a.alerts.Run(ctx, a.bus) })
	}

	if err := a.pool.Initialize(c); err != nil {
		return fmt.Errorf("account pool: %w", err)
	}
	for name, e := range a.engines {
		if err := e.Start(c); err != nil {
			return fmt.Errorf("engine %s: %w", name, err)
		}
	}
	if err := a.sched.Start(c); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if a.ops != nil {
		if err := a.ops.Start(c); err != nil {
			return fmt.Errorf("ops: %w", err)
		}
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyReload(cfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("tasks", len(a.sched.Schedules())),
		logx.Bool("redis", a.rdb != nil),
		logx.Bool("ops", a.ops != nil),
	)
	return nil
}

// Status is served on /status.
type Status struct {
	Engines     []engine.Snapshot        `json:"engines"`
	Schedules   []scheduler.ScheduleInfo `json:"schedules"`
	QueueLens   map[string]int           `json:"queue_lens"`
	Supervisors []rtsup.Stats            `json:"supervisors"`
	Alerts      []notifier.HistoryItem   `json:"alerts,omitempty"`
}

func (a *App) Status() Status {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st := Status{QueueLens: make(map[string]int, len(a.queues))}
	for _, name := range []string{QueueStorage, QueueForward} {
		st.Engines = append(st.Engines, a.engines[name].Snapshot())
	}
	st.Schedules = a.sched.Schedules()
	for name, q := range a.queues {
		if n, err := q.Len(ctx); err == nil {
			st.QueueLens[name] = n
		}
	}
	if a.sup != nil {
		st.Supervisors = a.sup.Snapshot()
	}
	if a.alerts != nil {
		st.Alerts = a.alerts.Snapshot()
	}
	return st
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// The scheduler stops first so no new work arrives while workers drain.
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	for _, name := range []string{QueueStorage, QueueForward} {
		e := a.engines[name]
		a.step(ctx, "engine."+name, 10*time.Second, func(c context.Context) error { e.Stop(c); return nil })
	}
	a.step(ctx, "ops", time.Second, func(c context.Context) error {
		if a.ops != nil {
			a.ops.Stop(c)
		}
		return nil
	})

	a.sup.Cancel()
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	a.closeResources()
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

func (a *App) closeResources() {
	for _, q := range a.queues {
		_ = q.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
