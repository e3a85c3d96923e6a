// Package render turns a URL into cached, browser-rendered markup.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Viewport is the browser window size used for a render.
type Viewport struct {
	Width  int
	Height int
}

// Options bound a single render.
type Options struct {
	// NavigationTimeout caps navigation plus the wait for network idle.
	NavigationTimeout time.Duration
	// SettleDelay is extra time given to late client-side rendering after the network goes idle.
	SettleDelay time.Duration
	Viewport    Viewport
	UserAgent   string
}

// DefaultOptions returns the bounds used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		NavigationTimeout: 30 * time.Second,
		SettleDelay:       2 * time.Second,
		Viewport:          Viewport{Width: 1280, Height: 800},
		UserAgent:         "Mozilla/5.0 (compatible; PrerenderBot/1.0)",
	}
}

// withDefaults fills zero fields from DefaultOptions. A zero SettleDelay is kept.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = d.NavigationTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.Viewport.Width <= 0 || o.Viewport.Height <= 0 {
		o.Viewport = d.Viewport
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	return o
}

// Renderer loads a page in a browser and returns its serialized markup.
// Implementations must release their browser session before returning.
type Renderer interface {
	Render(ctx context.Context, url string, opts Options) (string, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, url string, opts Options) (string, error)

func (f RendererFunc) Render(ctx context.Context, url string, opts Options) (string, error) {
	return f(ctx, url, opts)
}

// Kind classifies a render failure.
type Kind int

const (
	// KindInvalidInput means the URL was missing or malformed. Nothing was rendered.
	KindInvalidInput Kind = iota + 1
	// KindRenderFailed means the renderer was invoked and failed.
	KindRenderFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindRenderFailed:
		return "render_failed"
	default:
		return "unknown"
	}
}

// Error is returned by Service.Render for every failure.
type Error struct {
	Kind Kind
	URL  string
	// Message is a diagnostic safe to show to the caller.
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a render *Error of kind k.
func IsKind(err error, k Kind) bool {
	var rerr *Error
	return errors.As(err, &rerr) && rerr.Kind == k
}

func invalidInput(raw, msg string) *Error {
	return &Error{Kind: KindInvalidInput, URL: raw, Message: msg}
}

func renderFailed(url string, err error) *Error {
	return &Error{Kind: KindRenderFailed, URL: url, Message: err.Error(), Err: err}
}
