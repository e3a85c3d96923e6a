package handlers

import (
	"net/http"

	"github.com/onnwee/prerender/internal/apierr"
	"github.com/onnwee/prerender/internal/middleware"
)

// CacheAdminHandler handles cache administration endpoints.
type CacheAdminHandler struct {
	admin CacheAdmin
}

// NewCacheAdminHandler creates a new cache admin handler.
func NewCacheAdminHandler(admin CacheAdmin) *CacheAdminHandler {
	return &CacheAdminHandler{admin: admin}
}

type clearCacheRequest struct {
	URL string `json:"url"`
}

// ClearCache removes one cached render when a url is given, otherwise all of them.
// POST /clear-cache
func (h *CacheAdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	var req clearCacheRequest
	if _, err := middleware.DecodeJSON(r, &req); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON(err.Error()))
		return
	}

	if req.URL != "" {
		h.admin.Invalidate(req.URL)
		writeJSON(w, r, http.StatusOK, map[string]string{
			"message": "Cache cleared for " + req.URL,
		})
		return
	}

	h.admin.InvalidateAll()
	writeJSON(w, r, http.StatusOK, map[string]string{
		"message": "All cache cleared",
	})
}

// GetCacheStats returns current cache statistics.
// GET /cache/stats
func (h *CacheAdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, newCacheStatsResponse(h.admin.Stats()))
}
