package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is a process-local Cache backed by go-cache.
type Memory struct {
	c  *gocache.Cache
	mu sync.Mutex // serializes Increment's read-then-write
}

func NewMemory(cleanupInterval time.Duration) *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	v, found := m.c.Get(key)
	if !found {
		return nil, ErrCacheMiss
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *Memory) Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, expiresAt, found := m.c.GetWithExpiration(key); found {
		// Fails only if the item expired since the read; start a new counter.
		if n, err := m.c.IncrementInt64(key, 1); err == nil {
			return n, expiresAt, nil
		}
	}

	if ttl <= 0 {
		m.c.Set(key, int64(1), gocache.NoExpiration)
		return 1, time.Time{}, nil
	}
	m.c.Set(key, int64(1), ttl)
	_, expiresAt, _ := m.c.GetWithExpiration(key)
	return 1, expiresAt, nil
}

func (m *Memory) Count() int {
	return m.c.ItemCount()
}
