package cache

import (
	"sync"
	"time"
)

// MockCache is a simple in-memory cache for testing that implements the Cache interface.
// It never expires entries and records every Set.
type MockCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	sets   []string
	hits   uint64
	misses uint64
}

// NewMockCache creates a new mock cache for testing.
func NewMockCache() *MockCache {
	return &MockCache{
		data: make(map[string][]byte),
	}
}

func (m *MockCache) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, found := m.data[key]
	if found {
		m.hits++
	} else {
		m.misses++
	}
	return val, found
}

func (m *MockCache) Set(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets = append(m.sets, key)
}

func (m *MockCache) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *MockCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
}

func (m *MockCache) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		KeysAdded: uint64(len(m.sets)),
		Items:     int64(len(m.data)),
	}
}

// Sets returns the keys passed to Set, in call order.
func (m *MockCache) Sets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sets...)
}
