// Package handlers implements the HTTP endpoints of the prerender service.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/onnwee/prerender/internal/cache"
	"github.com/onnwee/prerender/internal/logger"
	"github.com/onnwee/prerender/internal/render"
)

// Renderer produces markup for a URL. *render.Service implements it.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (render.Result, error)
}

// CacheAdmin invalidates cached renders and reports cache statistics.
// *render.Service implements it.
type CacheAdmin interface {
	Invalidate(rawURL string)
	InvalidateAll()
	Stats() cache.Stats
}

// CacheStatsResponse is the JSON form of cache.Stats.
type CacheStatsResponse struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Keys      int64   `json:"keys"`
	KeysAdded uint64  `json:"keys_added"`
	Evictions uint64  `json:"evictions"`
	SizeBytes int64   `json:"size_bytes"`
	HitRatio  float64 `json:"hit_ratio"`
}

func newCacheStatsResponse(s cache.Stats) CacheStatsResponse {
	resp := CacheStatsResponse{
		Hits:      s.Hits,
		Misses:    s.Misses,
		Keys:      s.Items,
		KeysAdded: s.KeysAdded,
		Evictions: s.Evictions,
		SizeBytes: s.Size,
	}
	if total := s.Hits + s.Misses; total > 0 {
		resp.HitRatio = float64(s.Hits) / float64(total)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnContext(r.Context(), "Failed to encode response", "error", err)
	}
}
