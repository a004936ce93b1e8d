package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/montracker/pkg/models"
)

type entry struct {
	status  models.ModelStatus
	expires time.Time
}

// Memory is an in-process StatusCache.
type Memory struct {
	mu          sync.RWMutex
	ttl         time.Duration
	entries     map[string]entry
	generations map[string]int64
	now         func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Memory{
		ttl:         ttl,
		entries:     make(map[string]entry),
		generations: make(map[string]int64),
		now:         time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (models.ModelStatus, bool, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	generation := m.generations[key]

	e, ok := m.entries[key]
	if !ok || m.now().After(e.expires) {
		return "", false, generation, nil
	}

	return e.status, true, generation, nil
}

func (m *Memory) Set(_ context.Context, key string, status models.ModelStatus, generation int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generations[key] != generation {
		return nil
	}

	m.entries[key] = entry{status: status, expires: m.now().Add(m.ttl)}

	return nil
}

func (m *Memory) Invalidate(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
		m.generations[key]++
	}

	return nil
}

func (m *Memory) Close() error {
	return nil
}
