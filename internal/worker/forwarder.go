package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/forward"
	"relaybot/internal/forward/sender"
	"relaybot/internal/model"
	"relaybot/internal/queue"
	"relaybot/internal/storage"
	"relaybot/internal/task/engine"
	"relaybot/pkg/logx"
)

// ForwardStore is what the forwarder needs from the store.
type ForwardStore interface {
	GetFullChainArticle(ctx context.Context, id int64) (*model.Article, error)
	ForwardExists(ctx context.Context, articleID int64, targetID, taskType string) (bool, error)
	RecordForward(ctx context.Context, articleID int64, targetID, taskType string) (bool, error)
}

type Forwarder struct {
	store    ForwardStore
	senders  *sender.Registry
	cooldown forward.Cooldown
	loc      *time.Location
	now      func() time.Time
	log      logx.Logger
	bus      eventbus.Bus
}

type ForwarderOption func(*Forwarder)

func WithCooldown(c forward.Cooldown) ForwarderOption { return func(f *Forwarder) { f.cooldown = c } }
func WithLocation(l *time.Location) ForwarderOption   { return func(f *Forwarder) { f.loc = l } }
func WithNow(now func() time.Time) ForwarderOption    { return func(f *Forwarder) { f.now = now } }

func NewForwarder(store ForwardStore, senders *sender.Registry, log logx.Logger, bus eventbus.Bus, opts ...ForwarderOption) *Forwarder {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	f := &Forwarder{
		store:   store,
		senders: senders,
		loc:     time.Local,
		now:     time.Now,
		log:     log.With(logx.String("comp", "forwarder")),
		bus:     bus,
	}
	for _, o := range opts {
		o(f)
	}
	if f.cooldown == nil {
		f.cooldown = forward.NewMemoryCooldown()
	}
	return f
}

// ForwardEvent is published for every (article, target) outcome.
type ForwardEvent struct {
	Platform  string `json:"platform"`
	Target    string `json:"target"`
	ArticleID int64  `json:"article_id"`
	Reason    string `json:"reason,omitempty"`
}

type preparedTarget struct {
	cfg      forward.TargetConfig
	pipeline *forward.Pipeline
	send     sender.Sender
}

func (f *Forwarder) Handle(ctx context.Context, job queue.Job) (engine.Result, error) {
	var p ForwardJob
	if err := decode(job.Payload, &p); err != nil {
		return engine.Result{}, engine.NoRetry(fmt.Errorf("forward job %s: %w", job.ID, err))
	}
	if p.TaskType == "" {
		p.TaskType = TaskArticle
	}
	log := f.log.With(logx.String("job", job.ID), logx.String("task", p.TaskID))

	targets, err := f.prepare(p.Forwarder.Targets)
	if err != nil {
		return engine.Result{}, engine.NoRetry(err)
	}
	switch p.Forwarder.RenderMode {
	case "", forward.RenderText:
	case forward.RenderImage, forward.RenderImageText:
		log.Debug("image rendering unavailable; sending text", logx.String("render_mode", p.Forwarder.RenderMode))
	default:
		return engine.Result{}, engine.NoRetry(fmt.Errorf("unknown render_mode %q", p.Forwarder.RenderMode))
	}

	var sum ForwardSummary
	for i, t := range targets {
		f.forwardTarget(ctx, log, p, t, &sum)
		log.Info("target done",
			logx.String("target", t.cfg.Key()),
			logx.String("progress", fmt.Sprintf("%d/%d", i+1, len(targets))),
		)
	}

	res := engine.Result{Success: sum.Failed == 0, Count: sum.Records, Data: sum}
	if sum.Failed > 0 {
		res.Error = fmt.Sprintf("%d deliveries failed", sum.Failed)
	}
	return res, nil
}

// prepare validates targets and builds their pipelines. Any error here is a
// configuration error.
func (f *Forwarder) prepare(cfgs []forward.TargetConfig) ([]preparedTarget, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("forwarder_config: no targets")
	}
	out := make([]preparedTarget, 0, len(cfgs))
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		pl, err := forward.Build(c.Pipeline, f.cooldown, f.log)
		if err != nil {
			return nil, fmt.Errorf("target %s pipeline: %w", c.Key(), err)
		}
		s, err := f.senders.Get(c.Platform)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", c.Key(), err)
		}
		out = append(out, preparedTarget{cfg: c, pipeline: pl, send: s})
	}
	return out, nil
}

func (f *Forwarder) forwardTarget(ctx context.Context, log logx.Logger, p ForwardJob, t preparedTarget, sum *ForwardSummary) {
	targetID := t.cfg.Key()
	for _, id := range p.ArticleIDs {
		ev := ForwardEvent{Platform: t.cfg.Platform, Target: targetID, ArticleID: id}
		alog := log.With(logx.String("target", targetID), logx.Int64("article_id", id))

		done, err := f.store.ForwardExists(ctx, id, targetID, p.TaskType)
		if err != nil {
			sum.Failed++
			f.fail(alog, ev, "dedup lookup", err)
			continue
		}
		if done {
			sum.Skipped++
			continue
		}

		a, err := f.store.GetFullChainArticle(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				sum.Skipped++
				alog.Warn("article missing; skipped")
				continue
			}
			sum.Failed++
			f.fail(alog, ev, "load chain", err)
			continue
		}

		fc := forward.Prepare(a, t.cfg, p.Forwarder, f.loc, f.now())
		ok, err := t.pipeline.Run(ctx, fc)
		if err != nil {
			sum.Failed++
			f.fail(alog, ev, "pipeline", err)
			continue
		}
		msg := sender.FromContext(fc)
		if !ok || msg.Empty() {
			if ok {
				fc.AbortReason = "nothing to send"
			}
			sum.Blocked++
			ev.Reason = fc.AbortReason
			f.bus.Publish(eventbus.Event{Type: eventbus.ForwardBlock, Time: time.Now(), Data: ev})
			alog.Debug("forward blocked", logx.String("reason", fc.AbortReason))
			continue
		}

		if err := t.send.Send(ctx, t.cfg, msg); err != nil {
			sum.Failed++
			f.fail(alog, ev, "send", err)
			continue
		}
		sum.Sent++
		f.bus.Publish(eventbus.Event{Type: eventbus.ForwardSent, Time: time.Now(), Data: ev})

		n, err := f.recordChain(ctx, a, targetID, p.TaskType)
		sum.Records += n
		if err != nil {
			alog.Error("forward record failed; article may be sent again", logx.Err(err))
		}
	}
}

// recordChain records a and every ancestor as delivered to targetID.
func (f *Forwarder) recordChain(ctx context.Context, a *model.Article, targetID, taskType string) (int, error) {
	n := 0
	for cur, depth := a, 0; cur != nil && depth < model.MaxChainDepth; cur, depth = cur.Ref, depth+1 {
		inserted, err := f.store.RecordForward(ctx, cur.ID, targetID, taskType)
		if err != nil {
			return n, err
		}
		if inserted {
			n++
		}
	}
	return n, nil
}

func (f *Forwarder) fail(log logx.Logger, ev ForwardEvent, stage string, err error) {
	ev.Reason = stage + ": " + err.Error()
	f.bus.Publish(eventbus.Event{Type: eventbus.ForwardFailed, Time: time.Now(), Data: ev})
	log.Warn("forward failed", logx.String("stage", stage), logx.Err(err))
}
