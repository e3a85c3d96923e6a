package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/onnwee/prerender/internal/cache"
	"github.com/onnwee/prerender/internal/middleware"
	"github.com/onnwee/prerender/internal/render"
)

type testEnv struct {
	handler http.Handler
	cache   *cache.TTLCache
	calls   *int32
}

func newTestEnv(t *testing.T, fn render.RendererFunc, mutate func(*Deps)) *testEnv {
	t.Helper()
	c := cache.NewTTL(time.Hour, 0)
	t.Cleanup(c.Close)

	var calls int32
	counted := render.RendererFunc(func(ctx context.Context, url string, opts render.Options) (string, error) {
		atomic.AddInt32(&calls, 1)
		return fn(ctx, url, opts)
	})

	d := Deps{
		Service:      render.NewService(c, counted, render.DefaultOptions()),
		RenderMaxAge: time.Hour,
	}
	if mutate != nil {
		mutate(&d)
	}
	return &testEnv{handler: NewRouter(d), cache: c, calls: &calls}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func page(body string) render.RendererFunc {
	return func(ctx context.Context, url string, opts render.Options) (string, error) {
		return "<!DOCTYPE html><html><body>" + body + "</body></html>", nil
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	if body.RequestID == "" {
		t.Error("error body is missing request_id")
	}
	return body.Code
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, page("ok"), nil)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", out["status"])
	}
	if _, ok := out["cache_stats"].(map[string]interface{}); !ok {
		t.Errorf("expected cache_stats object, got %v", out["cache_stats"])
	}
	if rr.Header().Get("Content-Security-Policy") == "" {
		t.Error("expected CSP on JSON endpoint")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff header")
	}
	if rr.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
}

func TestRenderEndpoint_MissingURL(t *testing.T) {
	env := newTestEnv(t, page("ok"), nil)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/render", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "VALIDATION_MISSING_FIELD" {
		t.Errorf("unexpected code %s", code)
	}
	if *env.calls != 0 {
		t.Errorf("renderer called %d times", *env.calls)
	}
}

func TestRenderEndpoint_InvalidURL(t *testing.T) {
	env := newTestEnv(t, page("ok"), nil)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/render?url=javascript:alert(1)", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "VALIDATION_INVALID_URL" {
		t.Errorf("unexpected code %s", code)
	}
	if *env.calls != 0 {
		t.Errorf("renderer called %d times", *env.calls)
	}
}

func TestRenderEndpoint_CachesSuccessfulRenders(t *testing.T) {
	env := newTestEnv(t, page("hello"), nil)

	first := env.do(httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	if got := first.Header().Get(middleware.CacheStatusHeader); got != "MISS" {
		t.Errorf("expected MISS, got %q", got)
	}
	if !strings.Contains(first.Body.String(), "hello") {
		t.Errorf("unexpected body %q", first.Body.String())
	}
	if first.Header().Get("Content-Security-Policy") != "" {
		t.Error("rendered markup must not carry the API CSP")
	}

	// Equivalent spelling of the same page
	second := env.do(httptest.NewRequest(http.MethodGet, "/render?url=HTTPS://Example.com:443/%23top", nil))
	if got := second.Header().Get(middleware.CacheStatusHeader); got != "HIT" {
		t.Errorf("expected HIT, got %q", got)
	}
	if *env.calls != 1 {
		t.Errorf("expected 1 render, got %d", *env.calls)
	}
}

func TestRenderEndpoint_ConditionalGet(t *testing.T) {
	env := newTestEnv(t, page("etag"), nil)

	first := env.do(httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/", nil))
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}
	if cc := first.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}

	req := httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/", nil)
	req.Header.Set("If-None-Match", etag)
	rr := env.do(req)
	if rr.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %d bytes", rr.Body.Len())
	}
}

func TestRenderEndpoint_Compression(t *testing.T) {
	body := strings.Repeat("<p>prerendered</p>", 200)
	env := newTestEnv(t, page(body), nil)

	req := httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := env.do(req)

	if rr.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", rr.Header().Get("Content-Encoding"))
	}
	gr, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	plain, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(plain), body) {
		t.Error("decompressed body does not match rendered markup")
	}
}

func TestRenderEndpoint_EncodingsShareWeakETag(t *testing.T) {
	env := newTestEnv(t, page(strings.Repeat("<p>prerendered</p>", 200)), nil)

	plain := env.do(httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/", nil))
	req := httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/", nil)
	req.Header.Set("Accept-Encoding", "br")
	encoded := env.do(req)

	if encoded.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("expected br encoding, got %q", encoded.Header().Get("Content-Encoding"))
	}
	etag := plain.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"`) {
		t.Errorf("expected weak ETag for re-encoded bodies, got %q", etag)
	}
	if encoded.Header().Get("ETag") != etag {
		t.Errorf("expected same weak ETag across encodings, got %q and %q", etag, encoded.Header().Get("ETag"))
	}
}

func TestRenderEndpoint_FailureIsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	env := newTestEnv(t, func(ctx context.Context, url string, opts render.Options) (string, error) {
		if fail.Load() {
			return "", errors.New("navigation timeout of 30s exceeded")
		}
		return "<html>recovered</html>", nil
	}, nil)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "RENDER_FAILED" {
		t.Errorf("unexpected code %s", code)
	}
	if n := env.cache.Stats().Items; n != 0 {
		t.Errorf("expected empty cache after failure, got %d items", n)
	}

	fail.Store(false)
	rr = env.do(httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/", nil))
	if rr.Code != http.StatusOK || rr.Header().Get(middleware.CacheStatusHeader) != "MISS" {
		t.Errorf("expected fresh render after failure, got %d %q", rr.Code, rr.Header().Get(middleware.CacheStatusHeader))
	}
	if *env.calls != 2 {
		t.Errorf("expected 2 renders, got %d", *env.calls)
	}
}

func TestClearCacheEndpoint(t *testing.T) {
	env := newTestEnv(t, page("x"), nil)
	env.do(httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/a", nil))
	env.do(httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/b", nil))

	req := httptest.NewRequest(http.MethodPost, "/clear-cache", strings.NewReader(`{"url":"https://example.com/a"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if n := env.cache.Stats().Items; n != 1 {
		t.Errorf("expected 1 remaining item, got %d", n)
	}

	rr = env.do(httptest.NewRequest(http.MethodPost, "/clear-cache", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if n := env.cache.Stats().Items; n != 0 {
		t.Errorf("expected empty cache, got %d items", n)
	}
}

func TestClearCacheEndpoint_AdminToken(t *testing.T) {
	env := newTestEnv(t, page("x"), func(d *Deps) { d.AdminToken = "s3cret" })

	rr := env.do(httptest.NewRequest(http.MethodPost, "/clear-cache", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "AUTH_MISSING" {
		t.Errorf("unexpected code %s", code)
	}

	req := httptest.NewRequest(http.MethodPost, "/clear-cache", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	if rr := env.do(req); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/clear-cache", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	if rr := env.do(req); rr.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rr.Code)
	}
}

func TestRateLimitAppliesToRenderOnly(t *testing.T) {
	rl := middleware.NewRateLimiter(100, 100, 0.001, 1)
	t.Cleanup(rl.Stop)
	env := newTestEnv(t, page("x"), func(d *Deps) { d.RateLimiter = rl })

	if rr := env.do(httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/", nil)); rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}
	rr := env.do(httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	for i := 0; i < 3; i++ {
		if rr := env.do(httptest.NewRequest(http.MethodGet, "/health", nil)); rr.Code != http.StatusOK {
			t.Errorf("health should not be rate limited, got %d", rr.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, page("x"), nil)

	req := httptest.NewRequest(http.MethodOptions, "/clear-cache", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := env.do(req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("unexpected allow-origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, page("x"), nil)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "RESOURCE_NOT_FOUND" {
		t.Errorf("unexpected code %s", code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, page("x"), nil)

	rr := env.do(httptest.NewRequest(http.MethodDelete, "/render", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, page("x"), nil)
	env.do(httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/", nil))

	rr := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "prerender_") {
		t.Error("expected prerender metrics in exposition")
	}
}
