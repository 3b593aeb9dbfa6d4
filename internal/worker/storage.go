package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaybot/internal/forward"
	"relaybot/internal/model"
	"relaybot/internal/queue"
	"relaybot/internal/task/engine"
	"relaybot/internal/translate"
	"relaybot/pkg/logx"
)

// ArticleStore is what the storage worker needs from the store.
type ArticleStore interface {
	TrySave(ctx context.Context, a *model.Article) (*model.Article, error)
	SaveTranslation(ctx context.Context, id int64, translation, by string) (bool, error)
	SaveAttachmentTranslations(ctx context.Context, id int64, media []model.Media, extra *model.Extra) (bool, error)
	SaveFollows(ctx context.Context, items []model.FollowSnapshot) (int, error)
}

type Storage struct {
	store      ArticleStore
	forwards   queue.Queue
	translator translate.Config
	named      map[string]forward.ForwarderConfig
	backoff    time.Duration
	log        logx.Logger
}

type StorageOption func(*Storage)

// WithForwardQueue enables chaining forwarding jobs.
func WithForwardQueue(q queue.Queue) StorageOption { return func(s *Storage) { s.forwards = q } }

// WithDefaultTranslator is used when a job carries no translator_config.
func WithDefaultTranslator(cfg translate.Config) StorageOption {
	return func(s *Storage) { s.translator = cfg }
}

// WithForwarders resolves StorageJob.ForwarderName.
func WithForwarders(named map[string]forward.ForwarderConfig) StorageOption {
	return func(s *Storage) { s.named = named }
}

func WithTranslateBackoff(d time.Duration) StorageOption {
	return func(s *Storage) { s.backoff = d }
}

func NewStorage(store ArticleStore, log logx.Logger, opts ...StorageOption) *Storage {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Storage{store: store, log: log.With(logx.String("comp", "storage_worker")), backoff: time.Second}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Storage) Handle(ctx context.Context, job queue.Job) (engine.Result, error) {
	var p StorageJob
	if err := decode(job.Payload, &p); err != nil {
		return engine.Result{}, engine.NoRetry(fmt.Errorf("storage job %s: %w", job.ID, err))
	}
	log := s.log.With(logx.String("task", p.TaskID), logx.String("job", job.ID))

	switch p.TaskType {
	case TaskFollows:
		var items []model.FollowSnapshot
		if err := decode(p.Items, &items); err != nil {
			return engine.Result{}, engine.NoRetry(fmt.Errorf("follows items: %w", err))
		}
		n, err := s.store.SaveFollows(ctx, items)
		if err != nil {
			return engine.Result{}, err
		}
		log.Info("follows saved", logx.Int("count", n))
		return engine.Result{Success: true, Count: n}, nil
	case TaskArticle, "":
		var items []*model.Article
		if err := decode(p.Items, &items); err != nil {
			return engine.Result{}, engine.NoRetry(fmt.Errorf("article items: %w", err))
		}
		return s.saveArticles(ctx, log, p, items)
	default:
		return engine.Result{}, engine.NoRetry(fmt.Errorf("unknown storage task_type %q", p.TaskType))
	}
}

func (s *Storage) saveArticles(ctx context.Context, log logx.Logger, p StorageJob, items []*model.Article) (engine.Result, error) {
	tcfg := s.translator
	if p.Translator != nil {
		tcfg = *p.Translator
	}
	fw := p.Forward
	if fw == nil && p.ForwarderName != "" {
		cfg, ok := s.named[p.ForwarderName]
		if !ok {
			return engine.Result{}, engine.NoRetry(fmt.Errorf("unknown forwarder %q", p.ForwarderName))
		}
		fw = &cfg
	}

	var tr *translate.Retrier
	if tcfg.Provider != "" && tcfg.Provider != "none" {
		t, err := translate.New(tcfg)
		if err != nil {
			return engine.Result{}, engine.NoRetry(fmt.Errorf("translator: %w", err))
		}
		tr = translate.WithRetry(t, translate.DefaultAttempts, s.backoff, log)
	}

	var (
		sum     StorageSummary
		lastErr error
	)
	for _, item := range items {
		if item == nil || item.AID == "" || item.Platform == "" {
			sum.Failed++
			lastErr = errors.New("article without a_id/platform")
			continue
		}
		saved, err := s.store.TrySave(ctx, item)
		if err != nil {
			sum.Failed++
			lastErr = err
			log.Warn("article save failed", logx.String("article", item.Key().String()), logx.Err(err))
			continue
		}
		if saved == nil {
			sum.Existing++
			continue
		}
		sum.Saved++
		sum.ArticleIDs = append(sum.ArticleIDs, saved.ID)
		if tr != nil {
			sum.Translated += s.translateChain(ctx, log, tr, saved)
		}
	}

	if sum.Failed > 0 && sum.Saved == 0 && sum.Existing == 0 {
		return engine.Result{Data: sum}, fmt.Errorf("no article saved: %w", lastErr)
	}

	if fw != nil && len(sum.ArticleIDs) > 0 && s.forwards != nil {
		id, err := s.enqueueForward(ctx, p.TaskID, *fw, sum.ArticleIDs)
		if err != nil {
			return engine.Result{Data: sum}, fmt.Errorf("enqueue forward: %w", err)
		}
		sum.ForwardJob = id
	}

	log.Info("articles stored",
		logx.Int("saved", sum.Saved),
		logx.Int("existing", sum.Existing),
		logx.Int("failed", sum.Failed),
		logx.Int("translated", sum.Translated),
	)
	res := engine.Result{Success: sum.Failed == 0, Count: sum.Saved, Data: sum}
	if sum.Failed > 0 {
		res.Error = fmt.Sprintf("%d of %d articles failed: %v", sum.Failed, len(items), lastErr)
	}
	return res, nil
}

// translateChain fills missing translations on a and its ancestors: the
// content, every media caption and the extra card. Ancestors reused from the
// store arrive with their stored translations and are skipped.
func (s *Storage) translateChain(ctx context.Context, log logx.Logger, tr *translate.Retrier, a *model.Article) int {
	chain, err := a.Chain(model.MaxChainDepth)
	if err != nil {
		return 0
	}
	n := 0
	for _, cur := range chain {
		if cur.ID == 0 {
			continue
		}
		alog := log.With(logx.Int64("article_id", cur.ID))
		if cur.Translation == "" && cur.Content != "" {
			text := tr.Translate(ctx, cur.Content)
			ok, err := s.store.SaveTranslation(ctx, cur.ID, text, tr.Name())
			if err != nil {
				alog.Warn("save translation failed", logx.Err(err))
			} else if ok {
				cur.Translation, cur.TranslatedBy = text, tr.Name()
				n++
			}
		}
		s.translateAttachments(ctx, alog, tr, cur)
	}
	return n
}

func (s *Storage) translateAttachments(ctx context.Context, log logx.Logger, tr *translate.Retrier, a *model.Article) {
	var (
		media   = make([]model.Media, len(a.Media))
		pending bool
	)
	copy(media, a.Media)
	for i := range media {
		if media[i].Translation == "" && media[i].Alt != "" {
			media[i].Translation = tr.Translate(ctx, media[i].Alt)
			pending = true
		}
	}
	var extra *model.Extra
	if a.Extra != nil && a.Extra.Translation == "" && a.Extra.Content != "" {
		e := *a.Extra
		e.Translation = tr.Translate(ctx, e.Content)
		extra = &e
		pending = true
	}
	if !pending {
		return
	}

	ok, err := s.store.SaveAttachmentTranslations(ctx, a.ID, media, extra)
	if err != nil {
		log.Warn("save attachment translations failed", logx.Err(err))
		return
	}
	if ok {
		a.Media = media
		if extra != nil {
			a.Extra = extra
		}
	}
}

func (s *Storage) enqueueForward(ctx context.Context, taskID string, fw forward.ForwarderConfig, ids []int64) (string, error) {
	id := forwardJobID(taskID, ids)
	job, err := queue.NewJob(id, TypeForward, ForwardJob{
		TaskID:        id,
		StorageTaskID: taskID,
		TaskType:      TaskArticle,
		ArticleIDs:    ids,
		Forwarder:     fw,
	})
	if err != nil {
		return "", err
	}
	if _, err := s.forwards.Enqueue(ctx, job); err != nil {
		return "", err
	}
	return id, nil
}
