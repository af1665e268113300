// internal/browser/render/render.go
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrClosed is returned by Snapshot after Close.
var ErrClosed = errors.New("renderer closed")

// Options configures the headless browser.
type Options struct {
	Headless          bool
	Args              []string
	UserAgent         string
	ViewportWidth     float64
	ViewportHeight    float64
	NavigationTimeout time.Duration
	// PostLoadWait lets late scripts settle before the DOM is captured.
	PostLoadWait time.Duration
}

// ImageInfo is an image as the browser saw it after load.
type ImageInfo struct {
	Src           string `json:"src"`
	NaturalWidth  int    `json:"naturalWidth"`
	NaturalHeight int    `json:"naturalHeight"`
	Complete      bool   `json:"complete"`
}

// Snapshot is the serialized DOM of a rendered page.
type Snapshot struct {
	// URL is the final location after redirects.
	URL    string
	HTML   string
	Images []ImageInfo
}

const jsCollectImages = `Array.from(document.images).map(img => ({
	src: img.currentSrc || img.src,
	naturalWidth: img.naturalWidth,
	naturalHeight: img.naturalHeight,
	complete: img.complete
}))`

// Renderer loads pages in headless Chrome. The browser process starts on the
// first Snapshot and is shared by later ones; each page gets its own tab.
type Renderer struct {
	opts   Options
	logger *zap.Logger

	initOnce sync.Once
	initErr  error

	mu            sync.Mutex
	closed        bool
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

func New(opts Options, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 60 * time.Second
	}
	return &Renderer{opts: opts, logger: logger.Named("renderer")}
}

// AllocatorOptions translates Options into Chrome launch flags. Args entries
// are "name" or "name=value".
func AllocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(int(opts.ViewportWidth), int(opts.ViewportHeight)))
	}
	for _, arg := range opts.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			allocOpts = append(allocOpts, chromedp.Flag(key, value))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(key, true))
		}
	}
	return allocOpts
}

func (r *Renderer) initialize() error {
	r.initOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			r.initErr = ErrClosed
			return
		}
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(r.opts)...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		// An empty Run starts the browser process.
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			r.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		r.browserCtx, r.browserCancel, r.allocCancel = browserCtx, browserCancel, allocCancel
		r.logger.Info("Headless browser started.", zap.Bool("headless", r.opts.Headless))
	})
	return r.initErr
}

// Snapshot navigates a fresh tab to url and captures the rendered DOM.
func (r *Renderer) Snapshot(ctx context.Context, url string) (*Snapshot, error) {
	if err := r.initialize(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx)
	r.mu.Unlock()
	defer tabCancel()

	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, r.opts.NavigationTimeout)
	defer timeoutCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	snap := &Snapshot{}
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if r.opts.PostLoadWait > 0 {
		actions = append(actions, chromedp.Sleep(r.opts.PostLoadWait))
	}
	actions = append(actions,
		chromedp.Location(&snap.URL),
		chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery),
		chromedp.Evaluate(jsCollectImages, &snap.Images),
	)

	start := time.Now()
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to render %s: %w", url, err)
	}
	r.logger.Debug("Page rendered.",
		zap.String("url", snap.URL),
		zap.Int("images", len(snap.Images)),
		zap.Duration("elapsed", time.Since(start)))
	return snap, nil
}

// Close stops the browser. Idempotent.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.browserCancel != nil {
		r.browserCancel()
		r.allocCancel()
	}
}
