package lock

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Locker for single-instance deployments and tests.
type Memory struct {
	mu        sync.Mutex
	keys      map[string]memEntry
	clock     func() time.Time
	lastPrune time.Time
}

// memPruneEvery bounds how often Acquire sweeps expired keys.
const memPruneEvery = time.Minute

type memEntry struct {
	token string
	until time.Time
}

func NewMemory() *Memory {
	return &Memory{keys: map[string]memEntry{}, clock: time.Now}
}

func (m *Memory) Acquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if now.Sub(m.lastPrune) >= memPruneEvery {
		m.pruneLocked(now)
		m.lastPrune = now
	}
	if e, ok := m.keys[key]; ok && now.Before(e.until) {
		return false, nil
	}
	m.keys[key] = memEntry{token: token, until: now.Add(ttl)}
	return true, nil
}

func (m *Memory) Release(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.keys[key]
	if !ok || e.token != token || !m.clock().Before(e.until) {
		return false, nil
	}
	delete(m.keys, key)
	return true, nil
}

// Len reports how many keys are tracked, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

func (m *Memory) pruneLocked(now time.Time) {
	for k, e := range m.keys {
		if !now.Before(e.until) {
			delete(m.keys, k)
		}
	}
}
