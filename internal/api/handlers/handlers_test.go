package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/onnwee/prerender/internal/cache"
	"github.com/onnwee/prerender/internal/render"
)

func newTestService(fn render.RendererFunc) (*render.Service, *cache.MockCache) {
	c := cache.NewMockCache()
	return render.NewService(c, fn, render.DefaultOptions()), c
}

func staticRenderer(html string, calls *int32) render.RendererFunc {
	return func(ctx context.Context, url string, opts render.Options) (string, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return html, nil
	}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body: %v (body %q)", err, rr.Body.String())
	}
	return out
}

func TestRender_MissingURL(t *testing.T) {
	var calls int32
	svc, _ := newTestService(staticRenderer("<html></html>", &calls))
	h := NewRenderHandler(svc)

	rr := httptest.NewRecorder()
	h.Render(rr, httptest.NewRequest(http.MethodGet, "/render", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	body := decodeError(t, rr)
	if body["code"] != "VALIDATION_MISSING_FIELD" {
		t.Errorf("expected VALIDATION_MISSING_FIELD, got %v", body["code"])
	}
	if calls != 0 {
		t.Errorf("renderer should not be called, got %d calls", calls)
	}
}

func TestRender_InvalidURL(t *testing.T) {
	var calls int32
	svc, _ := newTestService(staticRenderer("<html></html>", &calls))
	h := NewRenderHandler(svc)

	for _, raw := range []string{"not-a-url", "ftp://example.com/file", "/relative/path"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/render?url="+raw, nil)
		h.Render(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("%q: expected 400, got %d", raw, rr.Code)
			continue
		}
		if body := decodeError(t, rr); body["code"] != "VALIDATION_INVALID_URL" {
			t.Errorf("%q: expected VALIDATION_INVALID_URL, got %v", raw, body["code"])
		}
	}
	if calls != 0 {
		t.Errorf("renderer should not be called, got %d calls", calls)
	}
}

func TestRender_MissThenHit(t *testing.T) {
	var calls int32
	svc, _ := newTestService(staticRenderer("<!DOCTYPE html><html><body>hi</body></html>", &calls))
	h := NewRenderHandler(svc)

	first := httptest.NewRecorder()
	h.Render(first, httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/a", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	if got := first.Header().Get("X-Prerender-Cache"); got != "MISS" {
		t.Errorf("expected MISS, got %q", got)
	}
	if ct := first.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected text/html content type, got %q", ct)
	}

	second := httptest.NewRecorder()
	h.Render(second, httptest.NewRequest(http.MethodGet, "/render?url=https://example.com/a", nil))
	if got := second.Header().Get("X-Prerender-Cache"); got != "HIT" {
		t.Errorf("expected HIT, got %q", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("cached body differs: %q vs %q", second.Body.String(), first.Body.String())
	}
	if calls != 1 {
		t.Errorf("expected 1 render, got %d", calls)
	}
}

func TestRender_Failure(t *testing.T) {
	svc, c := newTestService(func(ctx context.Context, url string, opts render.Options) (string, error) {
		return "", errors.New("net::ERR_NAME_NOT_RESOLVED")
	})
	h := NewRenderHandler(svc)

	rr := httptest.NewRecorder()
	h.Render(rr, httptest.NewRequest(http.MethodGet, "/render?url=https://nowhere.invalid/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	body := decodeError(t, rr)
	if body["code"] != "RENDER_FAILED" {
		t.Errorf("expected RENDER_FAILED, got %v", body["code"])
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "ERR_NAME_NOT_RESOLVED") {
		t.Errorf("expected renderer diagnostic in message, got %q", msg)
	}
	if len(c.Sets()) != 0 {
		t.Errorf("failed render must not be cached, got sets %v", c.Sets())
	}
}

func TestClearCache_All(t *testing.T) {
	svc, c := newTestService(staticRenderer("<html></html>", nil))
	c.Set("render:https://example.com/a", []byte("a"), 0)
	c.Set("render:https://example.com/b", []byte("b"), 0)
	h := NewCacheAdminHandler(svc)

	rr := httptest.NewRecorder()
	h.ClearCache(rr, httptest.NewRequest(http.MethodPost, "/clear-cache", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["message"] != "All cache cleared" {
		t.Errorf("unexpected message %q", out["message"])
	}
	if n := svc.Stats().Items; n != 0 {
		t.Errorf("expected empty cache, got %d items", n)
	}
}

func TestClearCache_SingleURL(t *testing.T) {
	var calls int32
	svc, _ := newTestService(staticRenderer("<html></html>", &calls))
	ctx := context.Background()
	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		if _, err := svc.Render(ctx, u); err != nil {
			t.Fatalf("render %s: %v", u, err)
		}
	}
	h := NewCacheAdminHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/clear-cache", strings.NewReader(`{"url":"https://example.com/a"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ClearCache(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out map[string]string
	json.Unmarshal(rr.Body.Bytes(), &out)
	if out["message"] != "Cache cleared for https://example.com/a" {
		t.Errorf("unexpected message %q", out["message"])
	}

	res, _ := svc.Render(ctx, "https://example.com/b")
	if !res.Cached {
		t.Error("expected other URL to stay cached")
	}
	res, _ = svc.Render(ctx, "https://example.com/a")
	if res.Cached {
		t.Error("expected cleared URL to be re-rendered")
	}
	if calls != 3 {
		t.Errorf("expected 3 renders, got %d", calls)
	}
}

func TestClearCache_MalformedJSON(t *testing.T) {
	svc, c := newTestService(staticRenderer("<html></html>", nil))
	c.Set("render:https://example.com/a", []byte("a"), 0)
	h := NewCacheAdminHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/clear-cache", strings.NewReader(`{"url":`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ClearCache(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeError(t, rr); body["code"] != "VALIDATION_INVALID_JSON" {
		t.Errorf("expected VALIDATION_INVALID_JSON, got %v", body["code"])
	}
	if n := svc.Stats().Items; n != 1 {
		t.Errorf("malformed request must not clear the cache, got %d items", n)
	}
}

func TestGetCacheStats(t *testing.T) {
	svc, c := newTestService(staticRenderer("<html></html>", nil))
	c.Set("k", []byte("v"), 0)
	c.Get("k")
	c.Get("k")
	c.Get("missing")
	h := NewCacheAdminHandler(svc)

	rr := httptest.NewRecorder()
	h.GetCacheStats(rr, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))

	var out CacheStatsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Hits != 2 || out.Misses != 1 || out.Keys != 1 {
		t.Errorf("unexpected stats %+v", out)
	}
	if out.HitRatio < 0.66 || out.HitRatio > 0.67 {
		t.Errorf("expected hit ratio ~0.667, got %v", out.HitRatio)
	}
}

func TestHealth(t *testing.T) {
	c := cache.NewMockCache()
	c.Set("k", []byte("v"), 0)
	h := NewHealthHandler(c)

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out struct {
		Status     string             `json:"status"`
		CacheStats CacheStatsResponse `json:"cache_stats"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "healthy" {
		t.Errorf("expected status healthy, got %s", out.Status)
	}
	if out.CacheStats.Keys != 1 {
		t.Errorf("expected 1 key, got %d", out.CacheStats.Keys)
	}
}
