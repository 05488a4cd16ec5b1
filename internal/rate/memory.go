package rate

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	counter   Counter
	expiresAt time.Time
}

// MemoryStore is an in-process [Store]. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     o.now,
	}
}

// Get returns the live counter for key.
func (m *MemoryStore) Get(_ context.Context, key string) (Counter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok {
		return Counter{}, false, nil
	}
	return entry.counter, true, nil
}

// Update applies fn to the counter under the store lock.
func (m *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, found := m.live(key)
	c := entry.counter
	switch fn(&c, found) {
	case Write:
		var expiresAt time.Time
		if ttl > 0 {
			expiresAt = m.now().Add(ttl)
		}
		m.entries[key] = memoryEntry{counter: c, expiresAt: expiresAt}
	case Drop:
		delete(m.entries, key)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Sweep drops every expired entry and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *MemoryStore) live(key string) (memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}
