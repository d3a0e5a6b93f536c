package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and single-run tools. It is
// safe for concurrent use but shares nothing across processes.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// SetNow overrides the time source. Test hook.
func (m *Memory) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key Key) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[encodeKey(key)]
	if !ok || e.Expired(m.now()) {
		return nil, ErrMiss
	}
	clone := *e
	return &clone, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, e *Entry) error {
	clone := *e
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[encodeKey(e.Key)] = &clone
	return nil
}

// Keys implements Store.
func (m *Memory) Keys(_ context.Context) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]Key, 0, len(m.entries))
	for _, e := range m.entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// PurgeExpired implements Store.
func (m *Memory) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	purged := 0
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			purged++
		}
	}
	return purged, nil
}

// Clear implements Store.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*Entry)
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
