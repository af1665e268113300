// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/depthlens/internal/augment"
	"github.com/xkilldash9x/depthlens/internal/augment/classify"
	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/loop"
	"github.com/xkilldash9x/depthlens/internal/collab"
	"github.com/xkilldash9x/depthlens/internal/config"
	"github.com/xkilldash9x/depthlens/internal/observability"
)

// imageFetchLimit bounds concurrent image loads per document.
const imageFetchLimit = 8

// Deps are the collaborators shared by every document of a run.
type Deps struct {
	Source    Source
	Converter collab.Converter
	// Fetcher serves the rasterization fallbacks.
	Fetcher collab.Fetcher
	// Images loads page images the way an <img> element does, without CORS.
	Images collab.Fetcher
	Prefs  collab.Prefs
	Probe  collab.Probe
}

// Options select what a run does with each document.
type Options struct {
	// Convert triggers a conversion for every surface once images settle.
	Convert bool
	// Clock drives document loops. Nil uses the wall clock.
	Clock loop.Clock
}

// Orchestrator augments documents, each in its own loop and engine, and
// reports what happened.
type Orchestrator struct {
	cfg    config.Interface
	logger *zap.Logger
	deps   Deps
	opts   Options
}

func New(cfg config.Interface, logger *zap.Logger, deps Deps, opts Options) (*Orchestrator, error) {
	if cfg == nil || deps.Source == nil || deps.Converter == nil || deps.Images == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, logger: logger.Named("orchestrator"), deps: deps, opts: opts}, nil
}

// Run augments every input, at most engine.concurrency at a time. A failing
// document is reported, not fatal; only cancellation of ctx aborts the run.
// Reports come back in input order.
func (o *Orchestrator) Run(ctx context.Context, inputs []string) ([]*Report, error) {
	reports := make([]*Report, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Engine().Concurrency)
	for i, input := range inputs {
		g.Go(func() error {
			rep, err := o.Augment(gctx, input)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.logger.Warn("Document failed.", zap.String("input", input), zap.Error(err))
				rep = &Report{Input: input, Error: err.Error()}
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// Augment loads one document, runs an engine over it until its images and
// conversions settle, and captures the result.
func (o *Orchestrator) Augment(ctx context.Context, input string) (*Report, error) {
	start := time.Now()
	page, err := o.deps.Source.Load(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", input, err)
	}
	logger := observability.ForDocument(o.logger, page.URL)

	l := loop.New(logger, o.opts.Clock)
	defer l.Close()
	bc := o.cfg.Browser()
	doc, err := dom.ParseString(page.HTML, dom.Options{
		Logger:         logger,
		Loop:           l,
		URL:            page.URL,
		ViewportWidth:  bc.ViewportWidth,
		ViewportHeight: bc.ViewportHeight,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := &run{
		o:      o,
		ctx:    runCtx,
		doc:    doc,
		loop:   l,
		page:   page,
		logger: logger,
		report: &Report{Input: input, URL: page.URL},
	}
	r.fetches, _ = errgroup.WithContext(runCtx)
	r.fetches.SetLimit(imageFetchLimit)
	defer func() {
		cancel()
		_ = r.fetches.Wait()
	}()

	if err := r.execute(); err != nil {
		return nil, err
	}
	r.report.Elapsed = time.Since(start).Round(time.Millisecond).String()
	logger.Info("Document augmented.",
		zap.Int("surfaces", len(r.report.Records)),
		zap.Int("rejected", len(r.report.Rejections)),
		zap.String("elapsed", r.report.Elapsed))
	return r.report, nil
}

// run is the state of one document. Everything but fetches is loop-owned.
type run struct {
	o      *Orchestrator
	ctx    context.Context
	doc    *dom.Document
	loop   *loop.Loop
	page   *Page
	logger *zap.Logger

	engine   *augment.Engine
	setupErr error
	ready    bool
	pending  int
	fetches  *errgroup.Group
	report   *Report
	captured bool
}

func (r *run) execute() error {
	r.loop.Post(r.setup)
	if err := r.loop.RunUntil(r.ctx, func() bool { return r.setupErr != nil || (r.ready && r.pending == 0) }); err != nil {
		return r.abort(err)
	}
	if r.setupErr != nil {
		return r.setupErr
	}

	if r.o.opts.Convert {
		r.loop.Post(func() {
			n := r.engine.ConvertAll()
			r.logger.Debug("Conversions started.", zap.Int("count", n))
		})
		if err := r.loop.RunUntil(r.ctx, func() bool { return r.loop.PendingTasks() == 0 && !r.engine.Busy() }); err != nil {
			return r.abort(err)
		}
	}

	r.loop.Post(r.capture)
	r.loop.RunPending()
	if !r.captured {
		return errors.New("document loop closed before capture")
	}
	return nil
}

func (r *run) abort(err error) error {
	if r.engine != nil {
		r.loop.Post(r.engine.Teardown)
		r.loop.RunPending()
	}
	return err
}

func (r *run) setup() {
	cfg := r.o.cfg
	keywords := append(append([]string(nil), classify.DefaultKeywords...), cfg.Classifier().ExtraKeywords...)
	eng, err := augment.New(r.ctx, r.doc, augment.Deps{
		Converter: r.o.deps.Converter,
		Fetcher:   r.o.deps.Fetcher,
		Prefs:     r.o.deps.Prefs,
		Probe:     r.o.deps.Probe,
		Spawner:   core.NewGoroutineSpawner(),
	}, augment.Options{
		Logger:   r.logger,
		Policy:   cfg.Policy(),
		Verbose:  cfg.Engine().Verbose,
		Keywords: keywords,
	})
	if err != nil {
		r.setupErr = fmt.Errorf("failed to start engine: %w", err)
		return
	}
	r.engine = eng
	r.loadImages()
	eng.Start()
	r.ready = true
}

// loadImages settles every image in the document: sizes the loader already
// knows complete at once, the rest are fetched in the background.
func (r *run) loadImages() {
	bySource := make(map[string][]*html.Node)
	var order []string
	for _, img := range r.doc.Images() {
		if core.IsGenerated(img) {
			continue
		}
		src := r.doc.CurrentSource(img)
		r.report.Images++
		if src == "" {
			r.doc.FailImage(img)
			r.report.BrokenImages++
			continue
		}
		if size, ok := r.page.Sizes[src]; ok {
			r.doc.CompleteImageSize(img, int(size.Width), int(size.Height))
			continue
		}
		if _, seen := bySource[src]; !seen {
			order = append(order, src)
		}
		bySource[src] = append(bySource[src], img)
	}

	origin := r.doc.Origin()
	for _, src := range order {
		nodes := bySource[src]
		r.pending++
		r.fetches.Go(func() error {
			pixels, err := r.o.deps.Images.Fetch(r.ctx, collab.FetchRequest{URL: src, Mode: collab.FetchPrivileged, Origin: origin})
			r.loop.Post(func() {
				r.pending--
				r.settle(src, nodes, pixels, err)
			})
			return nil
		})
	}
}

func (r *run) settle(src string, nodes []*html.Node, pixels image.Image, err error) {
	for _, img := range nodes {
		// The page may have changed the source while the fetch ran.
		if !r.doc.IsConnected(img) || r.doc.CurrentSource(img) != src {
			continue
		}
		if err != nil {
			r.doc.FailImage(img)
			r.report.BrokenImages++
			continue
		}
		r.doc.CompleteImage(img, pixels)
	}
	if err != nil {
		r.logger.Debug("Image failed to load.", zap.String("source", src), zap.Error(err))
	}
}

// capture records the outcome and tears the engine down.
func (r *run) capture() {
	eng := r.engine
	eng.Sweep()
	r.report.Stats = eng.Stats()
	r.report.Records = eng.Records()
	r.report.Rejections = eng.Rejections()
	n := eng.Notifier()
	if notice := n.NoticeNode(); notice != nil {
		r.report.Notices = append(r.report.Notices, dom.TextContent(notice))
	}
	for _, toast := range n.Toasts() {
		r.report.Toasts = append(r.report.Toasts, dom.TextContent(toast))
	}

	var buf strings.Builder
	if err := r.doc.Render(&buf); err != nil {
		r.logger.Warn("Failed to serialize document.", zap.Error(err))
	}
	r.report.HTML = buf.String()

	eng.Teardown()
	r.report.Stats = eng.Stats()
	r.captured = true
}
