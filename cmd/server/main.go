package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/prerender/internal/api"
	"github.com/onnwee/prerender/internal/api/handlers"
	"github.com/onnwee/prerender/internal/browser"
	"github.com/onnwee/prerender/internal/cache"
	"github.com/onnwee/prerender/internal/circuitbreaker"
	"github.com/onnwee/prerender/internal/config"
	"github.com/onnwee/prerender/internal/errorreporting"
	"github.com/onnwee/prerender/internal/logger"
	"github.com/onnwee/prerender/internal/metrics"
	"github.com/onnwee/prerender/internal/middleware"
	"github.com/onnwee/prerender/internal/render"
	"github.com/onnwee/prerender/internal/tracing"
)

// closableCache is a cache backend that owns background resources.
type closableCache interface {
	cache.Cache
	Close()
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (falling back to system env)")
	}

	cfg := config.Load()

	logger.Init(cfg.LogLevel)
	logger.Info("Initializing prerender server", "version", cfg.SentryRelease, "log_level", cfg.LogLevel)

	if err := errorreporting.Init(errorreporting.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     cfg.SentryRelease,
		SampleRate:  cfg.SentrySampleRate,
	}); err != nil {
		logger.Warn("Failed to initialize error reporting", "error", err)
	} else if errorreporting.Enabled() {
		logger.Info("Error reporting initialized", "environment", cfg.SentryEnvironment)
		defer func() {
			logger.Info("Flushing error reports...")
			errorreporting.Flush(2 * time.Second)
		}()
	}

	shutdownTracing, err := tracing.Init(tracing.Options{
		Enabled:    cfg.OTELEnabled,
		Endpoint:   cfg.OTELEndpoint,
		SampleRate: cfg.OTELSampleRate,
		Version:    cfg.SentryRelease,
	})
	if err != nil {
		logger.Warn("Failed to initialize tracing", "error", err)
	} else if cfg.OTELEnabled {
		logger.Info("Tracing initialized", "endpoint", cfg.OTELEndpoint, "sample_rate", cfg.OTELSampleRate)
		defer func() {
			logger.Info("Shutting down tracer...")
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

	store, err := newCache(cfg)
	if err != nil {
		logger.Error("Failed to create render cache", "error", err)
		log.Fatalf("Failed to create render cache: %v", err)
	}
	defer store.Close()

	var renderer render.Renderer = browser.New(browser.Config{
		ExecPath:  cfg.ChromePath,
		RemoteURL: cfg.ChromeWSURL,
		NoSandbox: cfg.ChromeNoSandbox,
	})
	if cfg.BreakerEnabled {
		renderer = render.WithCircuitBreaker(renderer, circuitbreaker.New(circuitbreaker.Config{
			Name:             "browser",
			FailureThreshold: cfg.BreakerThreshold,
			Timeout:          cfg.BreakerCooldown,
			// Only a browser that cannot start counts; bad pages must not block other URLs.
			IsFailure: browser.IsBrowserFailure,
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := handlers.NewEventsHub(store)
	go hub.Run(ctx)

	svc := render.NewService(store, renderer, render.Options{
		NavigationTimeout: cfg.NavigationTimeout,
		SettleDelay:       cfg.SettleDelay,
		Viewport:          render.Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight},
		UserAgent:         cfg.UserAgent,
	}, render.WithObserver(hub.Publish), render.WithSingleFlight(cfg.RenderDedupe))

	collector := metrics.NewCollector(store, cfg.MetricsInterval)
	go collector.Start(ctx)
	defer collector.Stop()

	var limiter *middleware.RateLimiter
	if cfg.EnableRateLimit {
		limiter = middleware.NewRateLimiter(cfg.RateLimitGlobal, cfg.RateLimitGlobalBurst, cfg.RateLimitPerIP, cfg.RateLimitPerIPBurst)
		defer limiter.Stop()
		logger.Info("Rate limiting enabled",
			"global_rps", cfg.RateLimitGlobal, "global_burst", cfg.RateLimitGlobalBurst,
			"per_ip_rps", cfg.RateLimitPerIP, "per_ip_burst", cfg.RateLimitPerIPBurst)
	}

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.CORSAllowedOrigins

	if cfg.AdminAPIToken == "" {
		logger.Warn("ADMIN_API_TOKEN not set; POST /clear-cache is open")
	}

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(api.Deps{
			Service:      svc,
			Events:       hub,
			RateLimiter:  limiter,
			CORS:         corsConfig,
			AdminToken:   cfg.AdminAPIToken,
			RenderMaxAge: cfg.CacheTTL,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// Renders may legitimately take up to the navigation timeout plus settle time.
		WriteTimeout: cfg.NavigationTimeout + cfg.SettleDelay + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Prerender server running", "addr", srv.Addr, "cache_backend", cfg.CacheBackend,
			"cache_ttl", cfg.CacheTTL.String(), "dedupe", cfg.RenderDedupe)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err, ok := <-errCh:
		if ok {
			logger.Error("Server failed", "error", err)
			errorreporting.CaptureError(err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
	cancel()
	logger.Info("Prerender server stopped")
}

func newCache(cfg *config.Config) (closableCache, error) {
	if cfg.CacheBackend == "lru" {
		logger.Info("Using size-bounded render cache", "max_size_mb", cfg.CacheMaxSizeMB, "max_entries", cfg.CacheMaxEntries)
		lru, err := cache.NewLRU(cfg.CacheMaxSizeMB, cfg.CacheMaxEntries, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		return lru, nil
	}
	return cache.NewTTL(cfg.CacheTTL, cfg.CacheCheckPeriod), nil
}
