package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is how long a rendered page stays fresh.
const DefaultTTL = time.Hour

// DefaultCheckPeriod is how often expired entries are swept out of memory.
const DefaultCheckPeriod = 10 * time.Minute

// TTLCache is an unbounded map cache with per-entry expiry.
// Expiry is enforced on read; the background sweep only reclaims memory.
type TTLCache struct {
	mu         sync.RWMutex
	entries    map[string]ttlEntry
	defaultTTL time.Duration
	now        func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	keysAdded atomic.Uint64
	evictions atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

type ttlEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e ttlEntry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// NewTTL creates a cache whose entries live for defaultTTL and starts a sweeper
// that runs every checkPeriod. A checkPeriod <= 0 disables the sweeper.
func NewTTL(defaultTTL, checkPeriod time.Duration) *TTLCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	c := &TTLCache{
		entries:    make(map[string]ttlEntry),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if checkPeriod > 0 {
		go c.sweepLoop(checkPeriod)
	}
	return c
}

// Get retrieves a value from the cache by key.
func (c *TTLCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()

	if !found {
		c.misses.Add(1)
		return nil, false
	}

	if entry.expired(c.now()) {
		c.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have refreshed it.
		if cur, ok := c.entries[key]; ok && cur.expired(c.now()) {
			delete(c.entries, key)
			c.evictions.Add(1)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry.data, true
}

// Set stores a value in the cache with the given key and TTL.
func (c *TTLCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	c.entries[key] = ttlEntry{
		data:      value,
		expiresAt: c.now().Add(ttl),
	}
	c.mu.Unlock()
	c.keysAdded.Add(1)
}

// Delete removes a value from the cache.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes all values from the cache.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]ttlEntry)
	c.mu.Unlock()
}

// Stats returns cache statistics.
func (c *TTLCache) Stats() Stats {
	c.mu.RLock()
	items := int64(len(c.entries))
	var size int64
	for k, e := range c.entries {
		size += int64(len(k) + len(e.data))
	}
	c.mu.RUnlock()

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		KeysAdded: c.keysAdded.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
		Items:     items,
	}
}

// Sweep removes every expired entry and returns how many were removed.
func (c *TTLCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	c.evictions.Add(uint64(removed))
	return removed
}

func (c *TTLCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweeper. The cache remains usable afterwards.
func (c *TTLCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
