// Package cache provides the lookup cache consulted before any
// enrichment provider is invoked. Semantics are fixed regardless of
// backend: TTL is checked on read (expired entries are lazily evicted,
// never proactively swept) and writes are last-write-wins.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a TTL'd key-value store. Values are opaque bytes; callers
// marshal provider results to JSON. A miss and an expired entry are
// indistinguishable to the caller.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Close() error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is the in-process Cache backend.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryEntry)}
}

// Get returns the cached value if present and unexpired. A read past
// expiry evicts the entry and reports a miss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		// Recheck under the write lock: a concurrent Set may have
		// refreshed the entry.
		if cur, ok := m.items[key]; ok && time.Now().After(cur.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores the value with the given TTL, replacing any prior entry.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	m.items[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

// Size returns the number of entries, including not-yet-evicted
// expired ones.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Close is a no-op for the memory backend.
func (m *Memory) Close() error { return nil }
