// internal/augment/engine.go
package augment

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/classify"
	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/augment/inject"
	"github.com/xkilldash9x/depthlens/internal/augment/lifecycle"
	"github.com/xkilldash9x/depthlens/internal/augment/pattern"
	"github.com/xkilldash9x/depthlens/internal/augment/reconcile"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/collab"
)

// Deps are the external collaborators. Converter is required; the rest have
// in-process defaults.
type Deps struct {
	Converter collab.Converter
	Fetcher   collab.Fetcher
	Viewers   collab.ViewerFactory
	Prefs     collab.Prefs
	Probe     collab.Probe
	// Spawner runs background work. Nil uses goroutines.
	Spawner core.Spawner
}

// Options tune one engine instance.
type Options struct {
	Logger  *zap.Logger
	Policy  core.Policy
	Verbose bool

	// Classifier tables. Nil fields use the stock tables.
	Rules      []classify.Rule
	Keywords   []string
	Context    []classify.ContextRule
	Video      *classify.VideoSignatures
	Exceptions []classify.SiteException
}

// Engine augments one document. It owns every component and the shared
// context; nothing is global, so several engines can run side by side on
// separate documents. All methods must be called on the document's loop
// goroutine.
type Engine struct {
	ctx    *core.Context
	doc    *dom.Document
	logger *zap.Logger
	deps   Deps

	classifier *classify.Classifier
	analyzer   *pattern.Analyzer
	strategist *inject.Strategist
	controller *lifecycle.Controller
	reconciler *reconcile.Reconciler

	verdicts map[*html.Node]core.Verdict
	started  bool
	torn     bool
}

// New wires an engine for doc. Background work is cancelled when parent is
// done or the engine is torn down.
func New(parent context.Context, doc *dom.Document, deps Deps, opts Options) (*Engine, error) {
	if doc == nil {
		return nil, errors.New("engine requires a document")
	}
	if deps.Converter == nil {
		return nil, errors.New("engine requires a converter")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine")

	ctx := core.NewContext(parent, doc, logger, opts.Policy, deps.Spawner)
	ctx.Verbose = opts.Verbose

	if deps.Prefs == nil {
		deps.Prefs = collab.NewMemoryPrefs()
	}
	if deps.Viewers == nil {
		deps.Viewers = collab.NewDOMViewerFactory(doc, logger)
	}
	if deps.Probe == nil {
		deps.Probe = collab.StaticProbe{}
	}
	// One probe per document lifetime.
	deps.Probe = collab.NewCachedProbe(deps.Probe)

	e := &Engine{
		ctx:      ctx,
		doc:      doc,
		logger:   logger,
		deps:     deps,
		verdicts: make(map[*html.Node]core.Verdict),
	}

	var err error
	e.classifier, err = classify.New(logger, doc, classify.Options{
		Policy:     opts.Policy,
		Rules:      opts.Rules,
		Keywords:   opts.Keywords,
		Context:    opts.Context,
		Video:      opts.Video,
		Exceptions: opts.Exceptions,
		Verbose:    opts.Verbose,
	})
	if err != nil {
		ctx.Shutdown()
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}
	e.analyzer = pattern.New(logger, doc, opts.Policy)
	e.strategist = inject.New(ctx, e.activate)

	e.controller, err = lifecycle.New(ctx, lifecycle.Deps{
		Converter: deps.Converter,
		Fetcher:   deps.Fetcher,
		Viewers:   deps.Viewers,
		Prefs:     deps.Prefs,
		Probe:     deps.Probe,
	})
	if err != nil {
		ctx.Shutdown()
		return nil, err
	}
	e.reconciler, err = reconcile.New(ctx, reconcile.Deps{
		Strategist: e.strategist,
		Process:    e.process,
		Forget:     e.controller.Forget,
		Prune:      e.pruneVerdicts,
	})
	if err != nil {
		ctx.Shutdown()
		return nil, err
	}
	return e, nil
}

// Start scans the document and begins reconciling. Calling it again, or
// after Teardown, does nothing.
func (e *Engine) Start() {
	if e.started || e.torn {
		return
	}
	e.started = true
	if !e.ctx.Verbose {
		e.loadDebugPreference()
	}
	e.logger.Info("Engine started.", zap.String("origin", e.doc.Origin()), zap.Int("images", len(e.doc.Images())))
	e.reconciler.Start()
}

// loadDebugPreference turns on verbose classification when the stored
// debug flag is set. The store is read off the loop.
func (e *Engine) loadDebugPreference() {
	prefs := e.deps.Prefs
	e.ctx.Spawn(func() {
		on, err := collab.GetBool(e.ctx.Ctx(), prefs, core.PrefDebugMode)
		if err != nil {
			e.logger.Warn("Failed to read debug preference.", zap.Error(err))
			return
		}
		if !on {
			return
		}
		e.ctx.Post(func() {
			e.ctx.Verbose = true
			e.classifier.SetVerbose(true)
		})
	})
}

// Teardown stops reconciliation, cancels background work and waits for it.
// With CleanupOnTeardown every surface is removed and the document is left
// as it was found.
func (e *Engine) Teardown() {
	if e.torn {
		return
	}
	e.torn = true
	e.reconciler.Dispose()
	e.controller.Shutdown()
	if e.ctx.Policy.CleanupOnTeardown {
		for _, rec := range e.ctx.Table.Records() {
			e.controller.Forget(rec)
			e.strategist.Detach(rec)
		}
	}
	e.ctx.Shutdown()
	e.logger.Info("Engine torn down.", zap.Any("stats", e.ctx.Stats.Snapshot()))
}

// -- Pipeline --

// process runs classification and injection for one loaded, untracked image.
func (e *Engine) process(img *html.Node) {
	e.ctx.Stats.Scanned.Add(1)
	cand := e.ctx.Candidate(img)
	v := e.classifier.Classify(cand)
	e.verdicts[img] = v
	if !v.Eligible {
		e.ctx.Stats.Rejected.Add(1)
		return
	}
	if _, err := e.inject(cand); err != nil && !errors.Is(err, core.ErrConflict) {
		e.logger.Warn("Injection failed.", zap.String("source", cand.Source), zap.Error(err))
	}
}

// pruneVerdicts forgets verdicts of images no longer in the document.
func (e *Engine) pruneVerdicts() {
	for img := range e.verdicts {
		if !e.doc.IsConnected(img) {
			delete(e.verdicts, img)
		}
	}
}

// Retained reports how many images the engine holds verdicts for.
func (e *Engine) Retained() int { return len(e.verdicts) }

func (e *Engine) inject(cand core.Candidate) (*core.InjectionRecord, error) {
	lay := e.analyzer.Analyze(dom.ParentElement(cand.Node), cand.Node)
	return e.strategist.Inject(cand, lay)
}

// activate is the surface click handler.
func (e *Engine) activate(rec *core.InjectionRecord) {
	err := e.controller.Trigger(rec)
	switch {
	case err == nil, errors.Is(err, core.ErrInFlight):
	default:
		e.logger.Debug("Trigger ignored.", zap.String("record", rec.ID), zap.Error(err))
	}
}

// -- Context actions --

// Trigger converts the image node resolves to, as the context menu's
// "convert this image" does. An image the classifier passed over gets a
// surface first.
func (e *Engine) Trigger(node *html.Node) error {
	if e.torn {
		return core.ErrEngineClosed
	}
	img := e.ResolveTargetImage(node)
	if img == nil {
		return fmt.Errorf("no image near <%s>: %w", nodeName(node), core.ErrNotTracked)
	}
	rec, ok := e.ctx.Table.Get(e.doc.ID(img))
	if !ok {
		if !e.doc.IsLoaded(img) {
			return fmt.Errorf("image %s has not loaded: %w", e.doc.CurrentSource(img), core.ErrNotTracked)
		}
		var err error
		if rec, err = e.inject(e.ctx.Candidate(img)); err != nil {
			return fmt.Errorf("failed to place a surface: %w", err)
		}
	}
	return e.controller.Trigger(rec)
}

// ConvertAll triggers every idle record and returns how many conversions
// started.
func (e *Engine) ConvertAll() int {
	if e.torn {
		return 0
	}
	started := 0
	for _, rec := range e.ctx.Table.Records() {
		if rec.State() != core.StateIdle {
			continue
		}
		if err := e.controller.Trigger(rec); err != nil {
			e.logger.Debug("Conversion not started.", zap.String("record", rec.ID), zap.Error(err))
			continue
		}
		started++
	}
	return started
}

// Busy reports whether any conversion is still in flight.
func (e *Engine) Busy() bool {
	for _, rec := range e.ctx.Table.Records() {
		if rec.State() == core.StateProcessing {
			return true
		}
	}
	return false
}

// Reset returns the ready record behind node to idle.
func (e *Engine) Reset(node *html.Node) error {
	img := e.ResolveTargetImage(node)
	if img == nil {
		return core.ErrNotTracked
	}
	rec, ok := e.ctx.Table.Get(e.doc.ID(img))
	if !ok {
		return core.ErrNotTracked
	}
	return e.controller.Reset(rec)
}

// HasReadyArtifact reports whether an image with source already has a
// converted artifact. source may be the image's src or any of its srcset
// candidates.
func (e *Engine) HasReadyArtifact(source string) bool {
	want := e.doc.ResolveURL(source)
	if _, ok := e.ctx.Table.ReadyArtifact(want); ok {
		return true
	}
	for _, rec := range e.ctx.Table.Records() {
		if _, ok := rec.Artifact(); !ok {
			continue
		}
		if slices.Contains(e.doc.SourceCandidates(rec.Image), want) {
			return true
		}
	}
	return false
}

// -- Introspection --

// RecordInfo is a point-in-time view of one injection record.
type RecordInfo struct {
	ID       string            `json:"id"`
	XPath    string            `json:"xpath"`
	Source   string            `json:"source"`
	Strategy core.Strategy     `json:"strategy"`
	Layout   core.LayoutKind   `json:"layout"`
	Preserve bool              `json:"preserve_original"`
	Target   *core.Size        `json:"target,omitempty"`
	State    core.State        `json:"state"`
	Failure  *core.FailureKind `json:"failure,omitempty"`
	Artifact string            `json:"artifact,omitempty"`
}

// Records snapshots the tracking table in document order. Records whose
// image has left the document follow in injection order.
func (e *Engine) Records() []RecordInfo {
	recs := e.ctx.Table.Records()
	ordered := make([]*core.InjectionRecord, 0, len(recs))
	listed := make(map[*core.InjectionRecord]bool, len(recs))
	for _, img := range e.doc.Images() {
		if rec, ok := e.ctx.Table.Get(e.doc.ID(img)); ok && rec.Image == img && !listed[rec] {
			listed[rec] = true
			ordered = append(ordered, rec)
		}
	}
	for _, rec := range recs {
		if !listed[rec] {
			ordered = append(ordered, rec)
		}
	}

	out := make([]RecordInfo, 0, len(ordered))
	for _, rec := range ordered {
		info := RecordInfo{
			ID:       rec.ID,
			XPath:    dom.GenerateUniqueXPath(rec.Image),
			Source:   rec.Source,
			Strategy: rec.Strategy,
			Layout:   rec.Layout.Kind,
			Preserve: rec.Layout.PreserveOriginal,
			Target:   rec.Layout.Target,
			State:    rec.State(),
		}
		if f := rec.Failure(); f != nil {
			kind := f.Kind
			info.Failure = &kind
		}
		info.Artifact, _ = rec.Artifact()
		out = append(out, info)
	}
	return out
}

// Rejection is the latest verdict for an image the classifier turned down.
type Rejection struct {
	XPath   string       `json:"xpath"`
	Source  string       `json:"source"`
	Verdict core.Verdict `json:"verdict"`
}

// Rejections lists connected, untracked images with their last verdict, in
// document order.
func (e *Engine) Rejections() []Rejection {
	var out []Rejection
	for _, img := range e.doc.Images() {
		v, ok := e.verdicts[img]
		if !ok || v.Eligible || e.ctx.Table.Has(e.doc.ID(img)) {
			continue
		}
		out = append(out, Rejection{
			XPath:   dom.GenerateUniqueXPath(img),
			Source:  e.doc.CurrentSource(img),
			Verdict: v,
		})
	}
	return out
}

// Policy returns the thresholds the engine runs with.
func (e *Engine) Policy() core.Policy { return e.ctx.Policy }

// Verbose reports whether rejections are logged.
func (e *Engine) Verbose() bool { return e.ctx.Verbose }

// Stats returns the engine counters.
func (e *Engine) Stats() core.StatsSnapshot { return e.ctx.Stats.Snapshot() }

// Notifier exposes the toast and notice renderer.
func (e *Engine) Notifier() *lifecycle.Notifier { return e.controller.Notifier() }

// Sweep runs the reconciliation sweeps now instead of waiting for the next
// trigger.
func (e *Engine) Sweep() {
	if e.torn {
		return
	}
	e.reconciler.Sweep()
}

func nodeName(n *html.Node) string {
	if n == nil {
		return "nil"
	}
	return n.Data
}
