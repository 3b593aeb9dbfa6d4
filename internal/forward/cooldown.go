package forward

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cooldown is the short-lived expiring cache behind once/once.media rules.
// Claim reports true when key was free and is now held for ttl.
type Cooldown interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type MemoryCooldown struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{until: map[string]time.Time{}, now: time.Now}
}

// WithClock replaces the time source.
func (m *MemoryCooldown) WithClock(now func() time.Time) *MemoryCooldown {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *MemoryCooldown) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.until[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.until[key] = now.Add(ttl)
	if len(m.until) > 4096 {
		for k, exp := range m.until {
			if !now.Before(exp) {
				delete(m.until, k)
			}
		}
	}
	return true, nil
}

type RedisCooldown struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisCooldown(rdb redis.UniversalClient, prefix string) *RedisCooldown {
	if prefix == "" {
		prefix = "relaybot"
	}
	return &RedisCooldown{rdb: rdb, prefix: prefix}
}

func (r *RedisCooldown) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, r.prefix+":cooldown:"+key, "1", ttl).Result()
}

// DedupStore is the slice of the relational store used as a cooldown cache.
type DedupStore interface {
	ClaimDedup(ctx context.Context, key string, now, until time.Time) (bool, error)
}

// StoreCooldown keeps cooldowns in the store's dedup table so they survive
// restarts without redis.
type StoreCooldown struct {
	st  DedupStore
	now func() time.Time
}

func NewStoreCooldown(st DedupStore) *StoreCooldown {
	return &StoreCooldown{st: st, now: time.Now}
}

func (s *StoreCooldown) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now()
	return s.st.ClaimDedup(ctx, "cooldown:"+key, now, now.Add(ttl))
}
