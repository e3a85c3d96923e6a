package render

import (
	"context"

	"github.com/onnwee/prerender/internal/circuitbreaker"
)

// breakerRenderer fails fast while the browser keeps failing.
type breakerRenderer struct {
	next    Renderer
	breaker *circuitbreaker.CircuitBreaker
}

// WithCircuitBreaker wraps next so calls are rejected with
// circuitbreaker.ErrCircuitOpen while cb is open. It never retries.
func WithCircuitBreaker(next Renderer, cb *circuitbreaker.CircuitBreaker) Renderer {
	if cb == nil {
		return next
	}
	return &breakerRenderer{next: next, breaker: cb}
}

func (b *breakerRenderer) Render(ctx context.Context, url string, opts Options) (string, error) {
	var html string
	err := b.breaker.Call(func() error {
		var err error
		html, err = b.next.Render(ctx, url, opts)
		return err
	})
	return html, err
}
