package render

import (
	"context"
	"encoding/json"
	"time"

	"github.com/onnwee/prerender/internal/cache"
	"github.com/onnwee/prerender/internal/errorreporting"
	"github.com/onnwee/prerender/internal/logger"
	"github.com/onnwee/prerender/internal/metrics"
	"github.com/onnwee/prerender/internal/secrets"
	"github.com/onnwee/prerender/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// Outcome is the terminal state of one Render call.
type Outcome string

const (
	OutcomeHit     Outcome = "hit"
	OutcomeFresh   Outcome = "fresh"
	OutcomeFailed  Outcome = "failed"
	OutcomeInvalid Outcome = "invalid"
)

// Event describes a finished Render call.
type Event struct {
	URL      string        `json:"url"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"-"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// MarshalJSON writes Duration as whole milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		DurationMS int64 `json:"duration_ms"`
	}{plain(e), e.Duration.Milliseconds()})
}

// Result is the markup served for a URL.
type Result struct {
	HTML     []byte
	Cached   bool
	Key      string
	Duration time.Duration
}

// Service is the render orchestrator: validate, look up, render on a miss, store.
type Service struct {
	cache    cache.Cache
	renderer Renderer
	opts     Options

	observer func(Event)
	dedupe   bool
	group    singleflight.Group
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithObserver registers fn to receive an Event for every finished Render call.
// fn runs on the request goroutine and must not block.
func WithObserver(fn func(Event)) Option {
	return func(s *Service) { s.observer = fn }
}

// WithSingleFlight makes concurrent misses for the same URL share one render.
func WithSingleFlight(enabled bool) Option {
	return func(s *Service) { s.dedupe = enabled }
}

// NewService creates a render orchestrator over c and r.
func NewService(c cache.Cache, r Renderer, opts Options, options ...Option) *Service {
	s := &Service{
		cache:    c,
		renderer: r,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Options returns the bounds passed to the renderer.
func (s *Service) Options() Options {
	return s.opts
}

// Render returns the markup for rawURL, from cache when fresh and from the
// renderer otherwise. Failures are always *Error. A failed render leaves the
// cache untouched.
func (s *Service) Render(ctx context.Context, rawURL string) (Result, error) {
	start := s.now()
	ctx, span := tracing.StartSpan(ctx, "render.Render")
	defer span.End()
	span.SetAttributes(attribute.String("render.url", secrets.MaskURL(rawURL)))

	log := logger.WithRequestID(ctx).With("component", "render")

	normalized, err := Normalize(rawURL)
	if err != nil {
		s.finish(rawURL, OutcomeInvalid, start, err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	key := CacheKey(normalized)
	span.SetAttributes(attribute.String("render.key", secrets.MaskURL(normalized)))

	if html, ok := s.cache.Get(key); ok {
		d := s.finish(normalized, OutcomeHit, start, nil)
		span.SetAttributes(attribute.Bool("render.cached", true))
		log.Debug("Serving cached render", "url", secrets.MaskURL(normalized), "bytes", len(html))
		return Result{HTML: html, Cached: true, Key: key, Duration: d}, nil
	}
	span.SetAttributes(attribute.Bool("render.cached", false))

	html, err := s.renderMiss(ctx, key, normalized)
	if err != nil {
		rerr := renderFailed(normalized, err)
		s.finish(normalized, OutcomeFailed, start, rerr)
		span.RecordError(err)
		span.SetStatus(codes.Error, rerr.Message)
		log.Error("Render failed", "url", secrets.MaskURL(normalized), "error", err)
		errorreporting.CaptureRenderFailure(ctx, normalized, err)
		return Result{}, rerr
	}

	d := s.finish(normalized, OutcomeFresh, start, nil)
	log.Info("Rendered page", "url", secrets.MaskURL(normalized), "bytes", len(html), "duration_ms", d.Milliseconds())
	return Result{HTML: html, Cached: false, Key: key, Duration: d}, nil
}

// renderMiss renders url and stores the result under key.
func (s *Service) renderMiss(ctx context.Context, key, url string) ([]byte, error) {
	if !s.dedupe {
		return s.renderAndStore(ctx, key, url)
	}

	// The shared render must not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.renderAndStore(shared, key, url)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.RendersShared.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) renderAndStore(ctx context.Context, key, url string) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "render.Renderer")
	defer span.End()

	metrics.RendersInFlight.Inc()
	markup, err := s.renderer.Render(ctx, url, s.opts)
	metrics.RendersInFlight.Dec()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	html := []byte(markup)
	s.cache.Set(key, html, 0)
	span.SetAttributes(attribute.Int("render.bytes", len(html)))
	return html, nil
}

// finish records metrics and notifies the observer. It returns the elapsed time.
func (s *Service) finish(url string, outcome Outcome, start time.Time, err error) time.Duration {
	d := s.now().Sub(start)
	metrics.RendersTotal.WithLabelValues(string(outcome)).Inc()
	metrics.RenderDuration.WithLabelValues(string(outcome)).Observe(d.Seconds())

	if s.observer != nil {
		ev := Event{URL: secrets.MaskURL(url), Outcome: outcome, Duration: d, At: s.now()}
		if err != nil {
			ev.Error = err.Error()
		}
		s.observer(ev)
	}
	return d
}

// Invalidate removes the cached render of rawURL. URLs that do not normalize
// are used verbatim, so they usually match nothing.
func (s *Service) Invalidate(rawURL string) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		normalized = rawURL
	}
	s.cache.Delete(CacheKey(normalized))
	logger.WithComponent("render").Info("Invalidated cached render", "url", secrets.MaskURL(normalized))
}

// InvalidateAll empties the cache.
func (s *Service) InvalidateAll() {
	s.cache.Clear()
	logger.WithComponent("render").Info("Cleared render cache")
}

// Stats returns the cache statistics.
func (s *Service) Stats() cache.Stats {
	return s.cache.Stats()
}
