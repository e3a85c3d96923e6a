package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/prerender/internal/utils"
)

// DefaultUserAgent identifies render traffic to the sites being rendered.
const DefaultUserAgent = "Mozilla/5.0 (compatible; PrerenderBot/1.0; +https://github.com/onnwee/prerender)"

// Config holds application configuration derived from environment variables.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
	// Render cache
	CacheBackend       string        // "ttl" (default) or "lru"
	CacheTTL           time.Duration // lifetime of a rendered page
	CacheCheckPeriod   time.Duration // interval of the expired-entry sweep
	CacheMaxSizeMB     int64         // lru backend only
	CacheMaxEntries    int64         // lru backend only
	MetricsInterval    time.Duration // how often cache gauges are refreshed
	// Renderer
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	ViewportWidth     int
	ViewportHeight    int
	UserAgent         string
	RenderDedupe      bool // share one render between concurrent misses of the same URL
	BreakerEnabled    bool
	BreakerThreshold  int
	BreakerCooldown   time.Duration
	ChromePath        string // empty = let chromedp find a browser
	ChromeWSURL       string // when set, attach to a running browser instead of launching one
	ChromeNoSandbox   bool
	// Admin API token for gating cache administration (Bearer token)
	AdminAPIToken string
	// Security settings
	RateLimitGlobal      float64  // requests per second globally
	RateLimitGlobalBurst int      // burst size for global rate limit
	RateLimitPerIP       float64  // requests per second per IP
	RateLimitPerIPBurst  int      // burst size for per-IP rate limit
	CORSAllowedOrigins   []string // allowed CORS origins
	EnableRateLimit      bool     // enable rate limiting middleware
	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string  // Sentry DSN for error reporting
	SentryEnvironment string  // Sentry environment (dev, staging, production)
	SentryRelease     string  // Sentry release version
	SentrySampleRate  float64 // Sentry error sampling rate (0.0 to 1.0)
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	ua := strings.TrimSpace(os.Getenv("RENDER_USER_AGENT"))
	if ua == "" {
		ua = DefaultUserAgent
	}
	cached = &Config{
		Port:             utils.GetEnvAsInt("PORT", 3000),
		ShutdownTimeout:  utils.GetEnvAsMillis("SHUTDOWN_TIMEOUT_MS", 40000),
		CacheBackend:     strings.ToLower(strings.TrimSpace(os.Getenv("CACHE_BACKEND"))),
		CacheTTL:         utils.GetEnvAsSeconds("CACHE_TTL_SECONDS", 3600),
		CacheCheckPeriod: utils.GetEnvAsSeconds("CACHE_CHECK_PERIOD_SECONDS", 600),
		CacheMaxSizeMB:   utils.GetEnvAsInt64("CACHE_MAX_SIZE_MB", 256),
		CacheMaxEntries:  utils.GetEnvAsInt64("CACHE_MAX_ENTRIES", 10000),
		MetricsInterval:  utils.GetEnvAsMillis("METRICS_COLLECT_INTERVAL_MS", 15000),
		// Renderer bounds
		NavigationTimeout: utils.GetEnvAsMillis("RENDER_NAVIGATION_TIMEOUT_MS", 30000),
		SettleDelay:       utils.GetEnvAsMillis("RENDER_SETTLE_DELAY_MS", 2000),
		ViewportWidth:     utils.GetEnvAsInt("RENDER_VIEWPORT_WIDTH", 1280),
		ViewportHeight:    utils.GetEnvAsInt("RENDER_VIEWPORT_HEIGHT", 800),
		UserAgent:         ua,
		RenderDedupe:      utils.GetEnvAsBool("RENDER_DEDUPE", false),
		BreakerEnabled:    utils.GetEnvAsBool("RENDER_BREAKER_ENABLED", false),
		BreakerThreshold:  utils.GetEnvAsInt("RENDER_BREAKER_THRESHOLD", 5),
		BreakerCooldown:   utils.GetEnvAsMillis("RENDER_BREAKER_COOLDOWN_MS", 30000),
		ChromePath:        strings.TrimSpace(os.Getenv("CHROME_PATH")),
		ChromeWSURL:       strings.TrimSpace(os.Getenv("CHROME_WS_URL")),
		ChromeNoSandbox:   utils.GetEnvAsBool("CHROME_NO_SANDBOX", false),
		AdminAPIToken:     strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN")),
		// Security settings with sensible defaults
		RateLimitGlobal:      utils.GetEnvAsFloat("RATE_LIMIT_GLOBAL", 50.0),
		RateLimitGlobalBurst: utils.GetEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 100),
		RateLimitPerIP:       utils.GetEnvAsFloat("RATE_LIMIT_PER_IP", 5.0),
		RateLimitPerIPBurst:  utils.GetEnvAsInt("RATE_LIMIT_PER_IP_BURST", 10),
		EnableRateLimit:      utils.GetEnvAsBool("ENABLE_RATE_LIMIT", true),
		CORSAllowedOrigins:   utils.GetEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}, ","),
		// Observability settings
		LogLevel:          strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
		SentrySampleRate:  utils.GetEnvAsFloat("SENTRY_SAMPLE_RATE", 1.0),
	}
	if cached.CacheBackend != "lru" {
		cached.CacheBackend = "ttl"
	}
	if cached.LogLevel == "" {
		cached.LogLevel = "info"
	}
	if cached.OTELEndpoint == "" {
		cached.OTELEndpoint = "localhost:4318"
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}
	if cached.SentryRelease == "" {
		if v := os.Getenv("SERVICE_VERSION"); v != "" {
			cached.SentryRelease = v
		} else {
			cached.SentryRelease = "dev"
		}
	}

	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}
