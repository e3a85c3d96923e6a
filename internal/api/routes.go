// Package api assembles the HTTP surface of the prerender service.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/onnwee/prerender/internal/api/handlers"
	"github.com/onnwee/prerender/internal/apierr"
	"github.com/onnwee/prerender/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// compressMinSize is the smallest rendered page worth encoding.
const compressMinSize = 1024

// Service is the render orchestrator as seen by the HTTP layer.
type Service interface {
	handlers.Renderer
	handlers.CacheAdmin
}

// Deps holds everything the router needs.
type Deps struct {
	Service Service
	// Events is optional; without it /ws/renders is not registered.
	Events *handlers.EventsHub
	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter *middleware.RateLimiter
	CORS        *middleware.CORSConfig
	// AdminToken gates POST /clear-cache when non-empty.
	AdminToken string
	// RenderMaxAge is advertised to clients in Cache-Control on /render.
	RenderMaxAge time.Duration
}

// NewRouter wires the public routes and their middleware.
func NewRouter(d Deps) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Metrics)

	limit := func(h http.Handler) http.Handler { return h }
	if d.RateLimiter != nil {
		limit = d.RateLimiter.Limit
	}
	jsonAPI := func(h http.Handler) http.Handler {
		return middleware.APISecurityHeaders(middleware.ValidateRequestBody(middleware.MaxRequestBodySize)(h))
	}

	renderHandler := handlers.NewRenderHandler(d.Service)
	adminHandler := handlers.NewCacheAdminHandler(d.Service)
	healthHandler := handlers.NewHealthHandler(d.Service)

	// Render
	r.Handle("/render", limit(
		middleware.Compress(compressMinSize)(
			middleware.ETag(d.RenderMaxAge)(http.HandlerFunc(renderHandler.Render)),
		),
	)).Methods(http.MethodGet, http.MethodHead)

	// Cache administration
	r.Handle("/clear-cache", limit(jsonAPI(
		middleware.AdminToken(d.AdminToken)(http.HandlerFunc(adminHandler.ClearCache)),
	))).Methods(http.MethodPost)
	r.Handle("/cache/stats", jsonAPI(http.HandlerFunc(adminHandler.GetCacheStats))).Methods(http.MethodGet)

	// Health and metrics
	r.Handle("/health", jsonAPI(http.HandlerFunc(healthHandler.Health))).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Live render feed
	if d.Events != nil {
		r.HandleFunc("/ws/renders", d.Events.HandleWebSocket).Methods(http.MethodGet)
	}

	r.NotFoundHandler = jsonAPI(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		apierr.WriteErrorWithContext(w, req, apierr.ResourceNotFound(req.URL.Path))
	}))
	r.MethodNotAllowedHandler = jsonAPI(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		apierr.WriteErrorWithContext(w, req,
			apierr.New("METHOD_NOT_ALLOWED", "Method not allowed", http.StatusMethodNotAllowed))
	}))

	var h http.Handler = r
	h = middleware.SecurityHeaders(h)
	h = middleware.CORS(d.CORS)(h)
	h = middleware.RecoverWithSentry(h)
	h = middleware.RequestID(h)
	return h
}
