// internal/testing/harness/harness.go
package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/loop"
)

// PageURL is the document URL every test page uses.
const PageURL = "https://example.com/gallery/index.html"

// Page is a document on a manual clock.
type Page struct {
	T      testing.TB
	Doc    *dom.Document
	Loop   *loop.Loop
	Clock  *loop.ManualClock
	Logger *zap.Logger
}

type config struct {
	css           string
	url           string
	width, height float64
}

// Option customizes NewPage.
type Option func(*config)

// WithCSS adds an author stylesheet.
func WithCSS(css string) Option { return func(c *config) { c.css += css } }

// WithURL overrides the document URL.
func WithURL(u string) Option { return func(c *config) { c.url = u } }

// WithViewport overrides the 800x600 viewport.
func WithViewport(w, h float64) Option {
	return func(c *config) { c.width, c.height = w, h }
}

// NewPage parses body into a document with zero body margin.
func NewPage(t testing.TB, body string, opts ...Option) *Page {
	t.Helper()
	cfg := config{url: PageURL, width: 800, height: 600}
	for _, o := range opts {
		o(&cfg)
	}
	logger := zaptest.NewLogger(t)
	clock := loop.NewManualClock(time.Unix(1_700_000_000, 0))
	l := loop.New(logger, clock)
	t.Cleanup(l.Close)

	src := "<html><head><style>body{margin:0}" + cfg.css + "</style></head><body>" + body + "</body></html>"
	doc, err := dom.ParseString(src, dom.Options{
		Logger:         logger,
		Loop:           l,
		URL:            cfg.url,
		ViewportWidth:  cfg.width,
		ViewportHeight: cfg.height,
	})
	require.NoError(t, err)
	return &Page{T: t, Doc: doc, Loop: l, Clock: clock, Logger: logger}
}

// Node returns the element with the given id, failing the test if absent.
func (p *Page) Node(id string) *html.Node {
	p.T.Helper()
	n, err := p.Doc.QuerySelector(nil, "#"+id)
	require.NoError(p.T, err)
	require.NotNil(p.T, n, "element #%s not found", id)
	return n
}

// Query returns every match of a CSS selector.
func (p *Page) Query(selector string) []*html.Node {
	p.T.Helper()
	nodes, err := p.Doc.QuerySelectorAll(nil, selector)
	require.NoError(p.T, err)
	return nodes
}

// Count is len(Query(selector)).
func (p *Page) Count(selector string) int {
	p.T.Helper()
	return len(p.Query(selector))
}

// Load completes n with a natural size and delivers the load event.
func (p *Page) Load(n *html.Node, width, height int) {
	p.Doc.CompleteImageSize(n, width, height)
	p.Loop.RunPending()
}

// LoadAll completes every image not yet loaded with the given natural size.
func (p *Page) LoadAll(width, height int) {
	for _, img := range p.Doc.Images() {
		if p.Doc.IsLoaded(img) {
			continue
		}
		p.Doc.CompleteImageSize(img, width, height)
	}
	p.Loop.RunPending()
}

// Settle runs queued tasks, then advances the clock by d.
func (p *Page) Settle(d time.Duration) {
	p.Loop.RunPending()
	p.Loop.Advance(d)
	p.Loop.RunPending()
}

// HTML renders a node for failure messages.
func (p *Page) HTML(n *html.Node) string { return dom.OuterHTML(n) }
