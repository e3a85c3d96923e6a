package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Render metrics
	RendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prerender_renders_total",
			Help: "Total number of render requests by outcome",
		},
		[]string{"outcome"}, // outcome: hit, fresh, failed, invalid
	)

	RenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prerender_render_duration_seconds",
			Help:    "Duration of render requests in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 20, 35},
		},
		[]string{"outcome"},
	)

	RendersInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prerender_renders_in_flight",
			Help: "Number of browser renders currently running",
		},
	)

	RendersShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prerender_renders_shared_total",
			Help: "Total number of requests that joined an in-flight render of the same URL",
		},
	)

	BrowserReleaseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prerender_browser_release_errors_total",
			Help: "Total number of browser sessions that failed to close cleanly",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// Render cache metrics
	CacheHits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prerender_cache_hits",
			Help: "Render cache hits since process start",
		},
	)

	CacheMisses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prerender_cache_misses",
			Help: "Render cache misses since process start",
		},
	)

	CacheItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prerender_cache_items",
			Help: "Current number of entries in the render cache",
		},
	)

	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prerender_cache_size_bytes",
			Help: "Approximate size of cached markup in bytes",
		},
	)

	CacheEvictions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prerender_cache_evictions",
			Help: "Entries removed by expiry sweep or size pressure since process start",
		},
	)

	// API request metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 35},
		},
		[]string{"endpoint", "method", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Metrics collection error tracking
	MetricsCollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrics_collection_errors_total",
			Help: "Total number of errors during metrics collection",
		},
		[]string{"collector"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent to clients",
		},
	)
)
