package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// ensure defaults kick in with empty env
	for _, k := range []string{
		"PORT", "CACHE_BACKEND", "CACHE_TTL_SECONDS", "CACHE_CHECK_PERIOD_SECONDS",
		"RENDER_NAVIGATION_TIMEOUT_MS", "RENDER_SETTLE_DELAY_MS", "RENDER_USER_AGENT",
		"RENDER_DEDUPE", "RENDER_BREAKER_ENABLED", "LOG_LEVEL", "CORS_ALLOWED_ORIGINS",
	} {
		os.Unsetenv(k)
	}
	ResetForTest()
	defer ResetForTest()

	cfg := Load()
	if cfg.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.Addr() != ":3000" {
		t.Fatalf("expected addr :3000, got %s", cfg.Addr())
	}
	if cfg.CacheTTL != time.Hour {
		t.Fatalf("expected ttl 1h, got %s", cfg.CacheTTL)
	}
	if cfg.CacheCheckPeriod != 10*time.Minute {
		t.Fatalf("expected sweep 10m, got %s", cfg.CacheCheckPeriod)
	}
	if cfg.NavigationTimeout != 30*time.Second || cfg.SettleDelay != 2*time.Second {
		t.Fatalf("unexpected render bounds: nav=%s settle=%s", cfg.NavigationTimeout, cfg.SettleDelay)
	}
	if cfg.UserAgent != DefaultUserAgent {
		t.Fatalf("expected default UA, got %q", cfg.UserAgent)
	}
	if cfg.CacheBackend != "ttl" {
		t.Fatalf("expected ttl backend, got %q", cfg.CacheBackend)
	}
	if cfg.RenderDedupe {
		t.Fatal("dedupe should be off by default")
	}
	if cfg.BreakerEnabled {
		t.Fatal("circuit breaker should be off by default")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected info log level, got %q", cfg.LogLevel)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected CORS default: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("CACHE_BACKEND", "LRU")
	t.Setenv("RENDER_SETTLE_DELAY_MS", "500")
	t.Setenv("RENDER_DEDUPE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	ResetForTest()
	defer ResetForTest()

	cfg := Load()
	if cfg.Port != 8081 {
		t.Fatalf("expected port 8081, got %d", cfg.Port)
	}
	if cfg.CacheBackend != "lru" {
		t.Fatalf("expected lru backend, got %q", cfg.CacheBackend)
	}
	if cfg.SettleDelay != 500*time.Millisecond {
		t.Fatalf("expected 500ms settle, got %s", cfg.SettleDelay)
	}
	if !cfg.RenderDedupe {
		t.Fatal("expected dedupe on")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadIsCached(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	first := Load()
	t.Setenv("PORT", "9999")
	if Load() != first {
		t.Fatal("Load should return the cached config")
	}
	if Load().Port == 9999 {
		t.Fatal("cached config must not observe later env changes")
	}
}
