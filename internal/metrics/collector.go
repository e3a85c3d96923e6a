package metrics

import (
	"context"
	"time"

	"github.com/onnwee/prerender/internal/cache"
	"github.com/onnwee/prerender/internal/logger"
)

// StatsSource is anything that can report render cache statistics.
type StatsSource interface {
	Stats() cache.Stats
}

// Collector periodically copies cache statistics into Prometheus gauges.
type Collector struct {
	source   StatsSource
	interval time.Duration
	stop     chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the metrics collection loop. It blocks until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect initial metrics
	c.Collect()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	close(c.stop)
}

// Collect takes one snapshot of the cache statistics.
func (c *Collector) Collect() {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("metrics").Error("Error collecting cache stats", "error", r)
			MetricsCollectionErrors.WithLabelValues("cache").Inc()
			CacheItems.Set(-1) // Signal stale data
		}
	}()

	stats := c.source.Stats()
	CacheHits.Set(float64(stats.Hits))
	CacheMisses.Set(float64(stats.Misses))
	CacheItems.Set(float64(stats.Items))
	CacheSize.Set(float64(stats.Size))
	CacheEvictions.Set(float64(stats.Evictions))
}
