package cache

import (
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// LRUCache is a size-bounded cache implementation using ristretto.
// Unlike TTLCache it may decline or evict entries under memory pressure.
type LRUCache struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration

	// ristretto resets its own metrics on Clear; these do not.
	hits    atomic.Uint64
	misses  atomic.Uint64
	added   atomic.Uint64
	expired atomic.Uint64
	// size evictions ristretto had counted before its metrics were last reset
	evictedBeforeClear atomic.Uint64
}

// cacheItem wraps the data with expiration time.
type cacheItem struct {
	data      []byte
	expiresAt time.Time
}

// NewLRU creates a new LRU cache with the given configuration.
// maxSizeMB is the maximum size of the cache in megabytes.
// maxEntries is the maximum number of entries in the cache.
// defaultTTL is the default time-to-live for cache entries.
func NewLRU(maxSizeMB int64, maxEntries int64, defaultTTL time.Duration) (*LRUCache, error) {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	// NumCounters should be ~10x the number of entries for optimal performance
	numCounters := maxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}
	maxCost := maxSizeMB * 1024 * 1024
	if maxCost <= 0 {
		maxCost = 1024 * 1024
	}

	config := &ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64, // Number of keys per Get buffer
		Metrics:     true,
	}

	cache, err := ristretto.NewCache(config)
	if err != nil {
		return nil, err
	}

	return &LRUCache{
		cache:      cache,
		defaultTTL: defaultTTL,
	}, nil
}

// Get retrieves a value from the cache by key.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	val, found := c.cache.Get(key)
	if !found {
		c.misses.Add(1)
		return nil, false
	}

	item, ok := val.(*cacheItem)
	if !ok {
		// Invalid item type, delete it
		c.cache.Del(key)
		c.misses.Add(1)
		return nil, false
	}

	// Check expiration
	if !time.Now().Before(item.expiresAt) {
		c.cache.Del(key)
		c.expired.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return item.data, true
}

// Set stores a value in the cache with the given key and TTL.
func (c *LRUCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	item := &cacheItem{
		data:      value,
		expiresAt: time.Now().Add(ttl),
	}

	// Cost is the size of the data in bytes. ristretto's own TTL lets it drop
	// expired items without waiting for a read.
	cost := int64(len(key) + len(value))
	if c.cache.SetWithTTL(key, item, cost, ttl) {
		c.added.Add(1)
	}

	// Wait for value to pass through buffers so an immediate Get sees it
	c.cache.Wait()
}

// Delete removes a value from the cache.
func (c *LRUCache) Delete(key string) {
	c.cache.Del(key)
}

// Clear removes all values from the cache.
func (c *LRUCache) Clear() {
	c.evictedBeforeClear.Add(c.cache.Metrics.KeysEvicted())
	c.cache.Clear()
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() Stats {
	m := c.cache.Metrics

	size := int64(m.CostAdded()) - int64(m.CostEvicted())
	items := int64(m.KeysAdded()) - int64(m.KeysEvicted())
	if size < 0 {
		size = 0
	}
	if items < 0 {
		items = 0
	}

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		KeysAdded: c.added.Load(),
		Evictions: c.expired.Load() + c.evictedBeforeClear.Load() + m.KeysEvicted(),
		Size:      size, // Approximate current size
		Items:     items,
	}
}

// Close closes the cache and releases resources.
func (c *LRUCache) Close() {
	c.cache.Close()
}
