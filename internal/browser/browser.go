// Package browser renders pages in headless Chrome through the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/onnwee/prerender/internal/logger"
	"github.com/onnwee/prerender/internal/metrics"
	"github.com/onnwee/prerender/internal/render"
	"github.com/onnwee/prerender/internal/secrets"
)

// captureTimeout bounds serializing the DOM once the page has settled.
const captureTimeout = 10 * time.Second

// serializeDocument returns the doctype followed by the root element's markup.
const serializeDocument = `(() => {
	const dt = document.doctype;
	const head = dt ? new XMLSerializer().serializeToString(dt) + "\n" : "";
	return head + document.documentElement.outerHTML;
})()`

// ErrBrowserUnavailable marks failures to obtain a browser session, as opposed
// to failures of the page being rendered.
var ErrBrowserUnavailable = errors.New("start browser")

// IsBrowserFailure reports whether err says the browser itself is unhealthy.
// Navigation and page errors, and callers going away, do not.
func IsBrowserFailure(err error) bool {
	return errors.Is(err, ErrBrowserUnavailable) && !isContextErr(err)
}

// Config selects how Chrome is obtained.
type Config struct {
	// ExecPath is the Chrome binary. Empty lets chromedp search the usual locations.
	ExecPath string
	// RemoteURL is a DevTools websocket URL of an already running browser.
	// When set, a new tab is opened there instead of launching a process.
	RemoteURL string
	// NoSandbox disables the Chrome sandbox, needed when running as root in containers.
	NoSandbox bool
}

// Renderer implements render.Renderer with one browser session per call.
type Renderer struct {
	cfg Config
	log *slog.Logger
}

// New creates a browser renderer.
func New(cfg Config) *Renderer {
	return &Renderer{cfg: cfg, log: logger.WithComponent("browser")}
}

// Render loads url, waits for the network to go idle and the settle delay to
// pass, then returns the serialized document. The browser session is released
// before Render returns on every path.
func (r *Renderer) Render(ctx context.Context, url string, opts render.Options) (string, error) {
	allocCtx, cancelAlloc := r.allocator(ctx, opts)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(r.debugf),
		chromedp.WithLogf(r.debugf),
	)
	defer r.release(tabCtx, cancelTab, cancelAlloc)

	// The first Run starts the browser (or opens the remote tab).
	if err := chromedp.Run(tabCtx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBrowserUnavailable, err)
	}

	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return "", fmt.Errorf("%w: no page target", ErrBrowserUnavailable)
	}
	// A page target's id is also its main frame id.
	idle := newIdleWatcher(cdp.FrameID(c.Target.TargetID))
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok {
			idle.observe(e)
		}
	})

	navCtx, cancelNav := context.WithTimeout(tabCtx, opts.NavigationTimeout)
	defer cancelNav()

	err := chromedp.Run(navCtx,
		page.SetLifecycleEventsEnabled(true),
		emulation.SetUserAgentOverride(opts.UserAgent),
		chromedp.EmulateViewport(int64(opts.Viewport.Width), int64(opts.Viewport.Height)),
		chromedp.Navigate(url),
	)
	if err != nil {
		return "", navigationError(ctx, navCtx, opts.NavigationTimeout, err)
	}

	select {
	case <-idle.done:
	case <-navCtx.Done():
		return "", navigationError(ctx, navCtx, opts.NavigationTimeout, navCtx.Err())
	}

	if opts.SettleDelay > 0 {
		timer := time.NewTimer(opts.SettleDelay)
		select {
		case <-timer.C:
		case <-tabCtx.Done():
			timer.Stop()
			return "", fmt.Errorf("settle: %w", tabCtx.Err())
		}
	}

	captureCtx, cancelCapture := context.WithTimeout(tabCtx, captureTimeout)
	defer cancelCapture()

	var html string
	if err := chromedp.Run(captureCtx, chromedp.Evaluate(serializeDocument, &html)); err != nil {
		return "", fmt.Errorf("capture document: %w", err)
	}
	return html, nil
}

func (r *Renderer) allocator(ctx context.Context, opts render.Options) (context.Context, context.CancelFunc) {
	if r.cfg.RemoteURL != "" {
		return chromedp.NewRemoteAllocator(ctx, r.cfg.RemoteURL)
	}
	return chromedp.NewExecAllocator(ctx, r.allocatorOptions(opts)...)
}

func (r *Renderer) allocatorOptions(opts render.Options) []chromedp.ExecAllocatorOption {
	o := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+6)
	o = append(o, chromedp.DefaultExecAllocatorOptions[:]...)
	o = append(o,
		chromedp.WindowSize(opts.Viewport.Width, opts.Viewport.Height),
		chromedp.UserAgent(opts.UserAgent),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("mute-audio", true),
	)
	if r.cfg.ExecPath != "" {
		o = append(o, chromedp.ExecPath(r.cfg.ExecPath))
	}
	if r.cfg.NoSandbox {
		o = append(o, chromedp.NoSandbox)
	}
	return o
}

// release closes the tab and the browser. Failures are logged and counted but
// never replace the render result.
func (r *Renderer) release(tabCtx context.Context, cancelTab, cancelAlloc context.CancelFunc) {
	if err := chromedp.Cancel(tabCtx); err != nil && !isContextErr(err) {
		metrics.BrowserReleaseErrors.Inc()
		r.log.Warn("Failed to close browser session", "error", err, "remote", secrets.MaskURL(r.cfg.RemoteURL))
	}
	cancelTab()
	cancelAlloc()
}

func (r *Renderer) debugf(format string, args ...interface{}) {
	r.log.Debug(fmt.Sprintf(format, args...))
}

// navigationError turns a failed or timed out navigation into an error naming
// the limit that was hit. ctx is the caller's context.
func navigationError(ctx, navCtx context.Context, timeout time.Duration, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("navigation aborted: %w", ctx.Err())
	case errors.Is(navCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("navigation timeout of %s exceeded: %w", timeout, context.DeadlineExceeded)
	default:
		return fmt.Errorf("navigation failed: %w", err)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// idleWatcher closes done once the main frame reports networkIdle for the
// navigation it is currently loading.
type idleWatcher struct {
	mainFrame cdp.FrameID
	loading   atomic.Bool
	once      sync.Once
	done      chan struct{}
}

func newIdleWatcher(mainFrame cdp.FrameID) *idleWatcher {
	return &idleWatcher{mainFrame: mainFrame, done: make(chan struct{})}
}

func (w *idleWatcher) observe(ev *page.EventLifecycleEvent) {
	if ev.FrameID != w.mainFrame {
		return
	}
	switch ev.Name {
	case "init":
		// Events from the blank page that was replaced do not count.
		w.loading.Store(true)
	case "networkIdle":
		if w.loading.Load() {
			w.once.Do(func() { close(w.done) })
		}
	}
}
