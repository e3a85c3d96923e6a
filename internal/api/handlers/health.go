package handlers

import (
	"net/http"
	"time"

	"github.com/onnwee/prerender/internal/cache"
)

// StatsReader reports cache statistics.
type StatsReader interface {
	Stats() cache.Stats
}

// HealthHandler reports liveness together with cache statistics.
type HealthHandler struct {
	stats   StatsReader
	started time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(stats StatsReader) *HealthHandler {
	return &HealthHandler{stats: stats, started: time.Now()}
}

type healthResponse struct {
	Status        string             `json:"status"`
	CacheStats    CacheStatsResponse `json:"cache_stats"`
	UptimeSeconds int64              `json:"uptime_seconds"`
}

// Health returns {"status":"healthy"} with the current cache statistics.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:        "healthy",
		CacheStats:    newCacheStatsResponse(h.stats.Stats()),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}
