// Package cache stores rendered markup with a fixed time-to-live.
package cache

import "time"

// Cache defines the interface for caching rendered pages with TTL.
type Cache interface {
	// Get retrieves a value from the cache by key.
	// Returns the value and true if found and not expired, otherwise nil and false.
	Get(key string) ([]byte, bool)

	// Set stores a value in the cache with the given key and TTL, replacing any
	// previous value and expiry. TTL of 0 means use the default cache TTL.
	Set(key string, value []byte, ttl time.Duration)

	// Delete removes a value from the cache. Deleting a missing key is a no-op.
	Delete(key string)

	// Clear removes all values from the cache. Counters are not reset.
	Clear()

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats represents cache statistics. Hits, Misses, KeysAdded and Evictions only
// ever grow for the lifetime of a cache instance.
type Stats struct {
	Hits      uint64 // Total cache hits
	Misses    uint64 // Total cache misses
	KeysAdded uint64 // Total keys added
	Evictions uint64 // Total entries removed by expiry or size pressure
	Size      int64  // Approximate size in bytes
	Items     int64  // Current number of items
}
