package session

import (
	"context"
	"maps"
	"sync"
	"time"
)

type entry struct {
	data       map[string]any
	lastAccess time.Time
	ttl        time.Duration
}

// Memory is a process-local Backend. Expiry is measured from last access, so a
// session stays alive as long as it keeps being loaded.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]entry
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]entry),
		now:      time.Now,
	}
}

func (m *Memory) Load(_ context.Context, id string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return map[string]any{}, nil
	}

	now := m.now()
	if now.Sub(e.lastAccess) >= e.ttl {
		delete(m.sessions, id)
		return map[string]any{}, nil
	}

	e.lastAccess = now
	m.sessions[id] = e

	// The caller owns the returned map; hand out a copy so its mutations
	// don't leak into the store before Save.
	return maps.Clone(e.data), nil
}

func (m *Memory) Save(_ context.Context, id string, data map[string]any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[id] = entry{
		data:       maps.Clone(data),
		lastAccess: m.now(),
		ttl:        ttl,
	}

	return nil
}
