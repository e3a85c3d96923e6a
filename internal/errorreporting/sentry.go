// Package errorreporting sends render failures and panics to Sentry.
package errorreporting

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/onnwee/prerender/internal/logger"
	"github.com/onnwee/prerender/internal/secrets"
)

// PII patterns to scrub from error messages
var piiPatterns = []*regexp.Regexp{
	// Email addresses
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_.-]{20,}`),
	// API keys and tokens
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret)["\s:=]+[a-zA-Z0-9_-]{16,}`),
	// IP addresses
	regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
}

var enabled atomic.Bool

// Options configure the Sentry client.
type Options struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// Init initializes Sentry error reporting. An empty DSN leaves reporting off.
func Init(opts Options) error {
	if opts.DSN == "" {
		enabled.Store(false)
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		SampleRate:       opts.SampleRate,
		BeforeSend:       beforeSend,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	enabled.Store(true)
	return nil
}

// Enabled reports whether Init configured a DSN.
func Enabled() bool {
	return enabled.Load()
}

// beforeSend scrubs PII and credentials from every outgoing event.
func beforeSend(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	for i := range event.Exception {
		event.Exception[i].Value = scrubPII(event.Exception[i].Value)
	}

	if event.Message != "" {
		event.Message = scrubPII(event.Message)
	}

	for key, value := range event.Extra {
		if str, ok := value.(string); ok {
			event.Extra[key] = scrubPII(str)
		}
	}

	if event.Request != nil {
		if event.Request.Headers != nil {
			delete(event.Request.Headers, "Authorization")
			delete(event.Request.Headers, "Cookie")
			delete(event.Request.Headers, "X-Api-Key")
			delete(event.Request.Headers, "X-Admin-Token")
		}
		event.Request.QueryString = maskQuery(event.Request.QueryString)
	}

	return event
}

// maskQuery keeps the target url of a render request but strips credentials
// from it and from the query itself.
func maskQuery(raw string) string {
	if raw == "" {
		return ""
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return ""
	}
	for name, values := range q {
		for i, v := range values {
			switch {
			case name == "url":
				values[i] = secrets.MaskURL(v)
			case secrets.IsSensitiveParam(name):
				values[i] = "***"
			}
		}
	}
	return q.Encode()
}

// scrubPII removes personally identifiable information from strings
func scrubPII(text string) string {
	result := text
	for _, pattern := range piiPatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// ScrubPII exposes the PII scrubbing function for external use
func ScrubPII(text string) string {
	return scrubPII(text)
}

// CaptureError captures an error and sends it to Sentry
func CaptureError(err error) {
	if err == nil || !Enabled() {
		return
	}
	sentry.CaptureException(err)
}

// CaptureErrorWithContext captures an error with tags and extras. The request id
// in ctx, when present, is attached as a tag.
func CaptureErrorWithContext(ctx context.Context, err error, tags map[string]string, extras map[string]interface{}) {
	if err == nil || !Enabled() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		if reqID := logger.RequestID(ctx); reqID != "" {
			scope.SetTag("request_id", reqID)
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		// Extras are scrubbed by beforeSend
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// CaptureRenderFailure reports a failed render of targetURL.
func CaptureRenderFailure(ctx context.Context, targetURL string, err error) {
	CaptureErrorWithContext(ctx, err,
		map[string]string{"component": "render"},
		map[string]interface{}{"url": secrets.MaskURL(targetURL)},
	)
}

// CapturePanic reports a recovered panic value raised while serving r.
func CapturePanic(r *http.Request, recovered interface{}, stack []byte) {
	if !Enabled() {
		return
	}

	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetRequest(r)
	hub.Scope().SetLevel(sentry.LevelFatal)
	hub.Scope().SetTag("method", r.Method)
	hub.Scope().SetTag("path", r.URL.Path)
	if reqID := logger.RequestID(r.Context()); reqID != "" {
		hub.Scope().SetTag("request_id", reqID)
	}

	if e, ok := recovered.(error); ok {
		hub.CaptureException(e)
		return
	}
	hub.Scope().SetExtra("stack", scrubPII(string(stack)))
	hub.CaptureMessage(scrubPII(fmt.Sprint(recovered)))
}

// Flush waits for all events to be sent to Sentry
func Flush(timeout time.Duration) bool {
	if !Enabled() {
		return true
	}
	return sentry.Flush(timeout)
}
