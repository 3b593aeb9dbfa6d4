// Package accountpool multiplexes a small set of scraping credentials over
// many crawl tasks.
//
// The durable store is authoritative. The pool keeps a per-platform cache of
// active accounts sorted by last use (oldest first), rebuilt wholesale every
// hour and patched in place on single-account transitions. Every mutation is
// written to the store before the cache, except the selection stamp, which
// lands in the cache first and is then written through.
package accountpool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/model"
	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

const (
	DefaultRefreshEvery = time.Hour
	// FailureThreshold consecutive failures ban an account.
	FailureThreshold = 3
)

// Store is the durable side of the pool.
type Store interface {
	ListAccounts(ctx context.Context, f storage.AccountFilter) ([]model.Account, error)
	GetAccount(ctx context.Context, id int64) (model.Account, error)
	TouchAccount(ctx context.Context, id int64, at time.Time) error
	IncrementAccountFailure(ctx context.Context, id int64) (int, error)
	ResetAccountFailures(ctx context.Context, id int64) error
	BanAccount(ctx context.Context, id int64, until time.Time) error
	SetAccountStatus(ctx context.Context, id int64, status model.AccountStatus) error
	UnbanExpired(ctx context.Context, now time.Time) (int, error)
}

type Pool struct {
	store        Store
	log          logx.Logger
	bus          eventbus.Bus
	refreshEvery time.Duration
	now          func() time.Time

	mu          sync.Mutex // guards buckets, lastRefresh
	buckets     map[string]*bucket
	lastRefresh time.Time
}

// bucket is one platform's cached accounts, oldest last_used_at first.
type bucket struct {
	mu       sync.Mutex
	accounts []model.Account
}

type Option func(*Pool)

func WithRefreshEvery(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.refreshEvery = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(p *Pool) { p.now = now } }

func New(store Store, log logx.Logger, bus eventbus.Bus, opts ...Option) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	p := &Pool{
		store:        store,
		log:          log.With(logx.String("comp", "accountpool")),
		bus:          bus,
		refreshEvery: DefaultRefreshEvery,
		now:          time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Initialize reactivates accounts whose ban expired and loads the cache.
// Calling it again simply refreshes.
func (p *Pool) Initialize(ctx context.Context) error {
	if _, err := p.store.UnbanExpired(ctx, p.now()); err != nil {
		return err
	}
	return p.refresh(ctx)
}

func (p *Pool) refresh(ctx context.Context) error {
	accs, err := p.store.ListAccounts(ctx, storage.AccountFilter{Status: model.AccountActive})
	if err != nil {
		return err
	}
	next := map[string]*bucket{}
	for _, a := range accs {
		b := next[a.Platform]
		if b == nil {
			b = &bucket{}
			next[a.Platform] = b
		}
		b.accounts = append(b.accounts, a)
	}
	for _, b := range next {
		sortByLastUse(b.accounts)
	}

	p.mu.Lock()
	p.buckets = next
	p.lastRefresh = p.now()
	p.mu.Unlock()

	p.log.Debug("account cache refreshed", logx.Int("accounts", len(accs)), logx.Int("platforms", len(next)))
	p.bus.Publish(eventbus.Event{Type: eventbus.AccountPool, Data: p.counts()})
	return nil
}

// ensureFresh initializes lazily and refreshes a stale cache.
func (p *Pool) ensureFresh(ctx context.Context) error {
	p.mu.Lock()
	never := p.buckets == nil
	stale := p.now().Sub(p.lastRefresh) > p.refreshEvery
	p.mu.Unlock()

	switch {
	case never:
		return p.Initialize(ctx)
	case stale:
		return p.refresh(ctx)
	}
	return nil
}

func (p *Pool) bucketFor(platform string) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buckets[platform]
}

// GetAccount returns an available account for platform: the named one when
// name is set, otherwise the least recently used. It returns nil when none is
// available; callers treat that as a skip.
func (p *Pool) GetAccount(ctx context.Context, platform, name string) (*model.Account, error) {
	if err := p.ensureFresh(ctx); err != nil {
		return nil, err
	}
	if acc := p.pick(platform, name); acc != nil {
		return p.touch(ctx, acc)
	}

	// A cooled-down account may be waiting for the periodic sweep.
	n, err := p.store.UnbanExpired(ctx, p.now())
	if err != nil {
		return nil, err
	}
	if n > 0 {
		if err := p.refresh(ctx); err != nil {
			return nil, err
		}
		if acc := p.pick(platform, name); acc != nil {
			return p.touch(ctx, acc)
		}
	}
	p.log.Warn("no account available", logx.String("platform", platform), logx.String("name", name))
	return nil, nil
}

// pick selects an account and stamps its last use in the cache before the
// bucket unlocks, so concurrent callers rotate instead of sharing one.
func (p *Pool) pick(platform, name string) *model.Account {
	b := p.bucketFor(platform)
	if b == nil {
		return nil
	}
	now := p.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.accounts {
		if name != "" && b.accounts[i].Name != name {
			continue
		}
		if b.accounts[i].Available(now) {
			b.accounts[i].LastUsedAt = now
			acc := b.accounts[i]
			sortByLastUse(b.accounts)
			return &acc
		}
	}
	return nil
}

// touch writes the selection stamp through to the store.
func (p *Pool) touch(ctx context.Context, acc *model.Account) (*model.Account, error) {
	if err := p.store.TouchAccount(ctx, acc.ID, acc.LastUsedAt); err != nil {
		return nil, err
	}
	return acc, nil
}

// GetAllAvailableAccounts lists the platform's usable accounts, oldest used
// first.
func (p *Pool) GetAllAvailableAccounts(ctx context.Context, platform string) ([]model.Account, error) {
	if err := p.ensureFresh(ctx); err != nil {
		return nil, err
	}
	b := p.bucketFor(platform)
	if b == nil {
		return nil, nil
	}
	now := p.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Account
	for _, a := range b.accounts {
		if a.Available(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

// ReleaseAccount stamps last use so the account moves to the back of the
// rotation.
func (p *Pool) ReleaseAccount(ctx context.Context, id int64) error {
	now := p.now()
	if err := p.store.TouchAccount(ctx, id, now); err != nil {
		return err
	}
	p.patch(id, func(a *model.Account) { a.LastUsedAt = now })
	return nil
}

// ReportAccountFailure counts a failure; reaching FailureThreshold marks the
// account inactive for banMinutes.
func (p *Pool) ReportAccountFailure(ctx context.Context, id int64, banMinutes int) error {
	n, err := p.store.IncrementAccountFailure(ctx, id)
	if err != nil {
		return err
	}
	p.patch(id, func(a *model.Account) { a.FailureCount = n })
	if n < FailureThreshold {
		return nil
	}

	until := p.now().Add(time.Duration(banMinutes) * time.Minute)
	if err := p.store.BanAccount(ctx, id, until); err != nil {
		return err
	}
	p.patch(id, func(a *model.Account) {
		a.Status = model.AccountInactive
		a.BanUntil = until
	})
	p.log.Warn("account banned", logx.Int64("account", id), logx.Int("failures", n), logx.Time("until", until))
	p.bus.Publish(eventbus.Event{Type: eventbus.AccountBanned, Data: map[string]any{"id": id, "until": until}})
	return nil
}

func (p *Pool) ReportAccountSuccess(ctx context.Context, id int64) error {
	if err := p.store.ResetAccountFailures(ctx, id); err != nil {
		return err
	}
	p.patch(id, func(a *model.Account) { a.FailureCount = 0 })
	return nil
}

func (p *Pool) MarkAccountAsActive(ctx context.Context, id int64) error {
	return p.setStatus(ctx, id, model.AccountActive)
}

func (p *Pool) MarkAccountAsInactive(ctx context.Context, id int64) error {
	return p.setStatus(ctx, id, model.AccountInactive)
}

func (p *Pool) MarkAccountAsBanned(ctx context.Context, id int64) error {
	return p.setStatus(ctx, id, model.AccountBanned)
}

func (p *Pool) setStatus(ctx context.Context, id int64, status model.AccountStatus) error {
	if err := p.store.SetAccountStatus(ctx, id, status); err != nil {
		return err
	}
	if status != model.AccountActive {
		p.patch(id, func(a *model.Account) { a.Status = status })
		return nil
	}

	acc, err := p.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	p.upsert(acc)
	return nil
}

// UnbanExpiredAccounts reactivates accounts whose ban passed and refreshes
// the cache when anything changed.
func (p *Pool) UnbanExpiredAccounts(ctx context.Context) (int, error) {
	n, err := p.store.UnbanExpired(ctx, p.now())
	if err != nil || n == 0 {
		return n, err
	}
	p.log.Info("accounts unbanned", logx.Int("count", n))
	return n, p.refresh(ctx)
}

// patch applies fn to the cached account id. Accounts leaving the active
// state drop out of the cache. Unknown ids are ignored.
func (p *Pool) patch(id int64, fn func(a *model.Account)) {
	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	for _, b := range buckets {
		b.mu.Lock()
		for i := range b.accounts {
			if b.accounts[i].ID != id {
				continue
			}
			fn(&b.accounts[i])
			if b.accounts[i].Status != model.AccountActive {
				b.accounts = append(b.accounts[:i], b.accounts[i+1:]...)
			} else {
				sortByLastUse(b.accounts)
			}
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()
	}
}

func (p *Pool) upsert(acc model.Account) {
	p.mu.Lock()
	if p.buckets == nil {
		// Not initialized; the first GetAccount loads everything.
		p.mu.Unlock()
		return
	}
	b := p.buckets[acc.Platform]
	if b == nil {
		b = &bucket{}
		p.buckets[acc.Platform] = b
	}
	p.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.accounts {
		if b.accounts[i].ID == acc.ID {
			b.accounts[i] = acc
			sortByLastUse(b.accounts)
			return
		}
	}
	b.accounts = append(b.accounts, acc)
	sortByLastUse(b.accounts)
}

// counts reports cached active accounts per platform.
func (p *Pool) counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.buckets))
	for platform, b := range p.buckets {
		b.mu.Lock()
		out[platform] = len(b.accounts)
		b.mu.Unlock()
	}
	return out
}

func sortByLastUse(accs []model.Account) {
	sort.SliceStable(accs, func(i, j int) bool {
		if !accs[i].LastUsedAt.Equal(accs[j].LastUsedAt) {
			return accs[i].LastUsedAt.Before(accs[j].LastUsedAt)
		}
		return accs[i].ID < accs[j].ID
	})
}
