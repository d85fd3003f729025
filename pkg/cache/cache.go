// Package cache provides the permission-decision cache used by the
// authorization engine. The default in-process implementation is not
// shared across processes; multi-instance deployments should use the
// Redis implementation so all instances see the same invalidations.
package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is the entry lifetime used when callers pass a zero TTL.
const DefaultTTL = 5 * time.Minute

// Cache is the permission cache contract. Values are opaque JSON blobs
// so in-process and distributed implementations store identical bytes.
type Cache interface {
	// Get returns the value for key, or ok=false on miss or expiry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key for ttl. A zero ttl means DefaultTTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Cache backed by a map. Expiry is checked
// lazily on read; there is no background sweep. NOT safe across
// processes: each instance would hold its own view of grants and miss
// invalidations made elsewhere.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Cache. Expired entries are dropped on read.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if m.now().After(entry.expires) {
		m.mu.Lock()
		// Re-check under the write lock; a Set may have raced us.
		if current, ok := m.entries[key]; ok && m.now().After(current.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set implements Cache.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	m.entries[key] = memoryEntry{
		value:   value,
		expires: m.now().Add(ttl),
	}
	m.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Clear implements Cache.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// Len returns the number of entries currently held, including entries
// past their expiry that have not been read since.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
