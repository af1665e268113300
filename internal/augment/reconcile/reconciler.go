// internal/augment/reconcile/reconciler.go
package reconcile

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/augment/inject"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/layout"
)

// watchedAttributes re-evaluate an image when they change.
var watchedAttributes = []string{"src", "srcset", "class", "style"}

// Deps are the pipeline steps the reconciler schedules.
type Deps struct {
	Strategist *inject.Strategist
	// Process classifies a loaded, untracked image and injects a surface
	// when it is eligible.
	Process func(img *html.Node)
	// Forget drops lifecycle state for a record about to be detached.
	Forget func(rec *core.InjectionRecord)
	// Prune drops per-image state kept for nodes that left the document.
	Prune func()
}

// Reconciler keeps the tracking table consistent with the live document. It
// reacts to debounced mutation batches and scroll motion, and sweeps away
// detached records and duplicate surfaces. Loop-owned.
type Reconciler struct {
	ctx    *core.Context
	doc    *dom.Document
	logger *zap.Logger
	policy core.Policy
	deps   Deps

	observer  *dom.MutationObserver
	scrollID  dom.ListenerID
	mutations *debouncer
	scroll    *debouncer

	queue     []*html.Node
	queued    map[*html.Node]struct{}
	loadWaits map[*html.Node]dom.ListenerID

	started  bool
	disposed bool
}

func New(ctx *core.Context, deps Deps) (*Reconciler, error) {
	if deps.Strategist == nil || deps.Process == nil {
		return nil, errors.New("reconciler requires a strategist and a process step")
	}
	if deps.Forget == nil {
		deps.Forget = func(*core.InjectionRecord) {}
	}
	if deps.Prune == nil {
		deps.Prune = func() {}
	}
	r := &Reconciler{
		ctx:       ctx,
		doc:       ctx.Doc,
		logger:    ctx.Logger.Named("reconciler"),
		policy:    ctx.Policy,
		deps:      deps,
		queued:    make(map[*html.Node]struct{}),
		loadWaits: make(map[*html.Node]dom.ListenerID),
	}
	r.mutations = newDebouncer(ctx.Loop, ctx.Policy.MutationDebounce, r.flushMutations)
	r.scroll = newDebouncer(ctx.Loop, ctx.Policy.ScrollDebounce, r.revalidateViewport)
	return r, nil
}

// Start observes the document and processes every image already present.
func (r *Reconciler) Start() {
	if r.started || r.disposed {
		return
	}
	r.started = true
	r.observer = r.doc.NewMutationObserver(r.onMutations)
	r.observer.Observe(r.doc.Root(), dom.ObserveOptions{
		ChildList:       true,
		Attributes:      true,
		Subtree:         true,
		AttributeFilter: watchedAttributes,
	})
	r.scrollID = r.doc.AddWindowListener("scroll", func(*dom.Event) { r.scroll.Poke() })

	images := r.doc.Images()
	r.logger.Debug("Initial scan.", zap.Int("images", len(images)))
	for _, img := range images {
		r.consider(img)
	}
}

// Dispose stops observation and cancels every pending timer and listener.
// The document is left as is; records are detached by the caller.
func (r *Reconciler) Dispose() {
	if r.disposed {
		return
	}
	r.disposed = true
	if r.observer != nil {
		r.observer.Disconnect()
	}
	if r.started {
		r.doc.RemoveEventListener(r.scrollID)
	}
	for img, id := range r.loadWaits {
		r.doc.RemoveEventListener(id)
		delete(r.loadWaits, img)
	}
	r.mutations.Stop()
	r.scroll.Stop()
	r.queue = nil
	clear(r.queued)
}

// -- Mutation path --

func (r *Reconciler) onMutations(records []dom.MutationRecord) {
	if r.disposed || r.ctx.Closed() {
		return
	}
	relevant := false
	for _, m := range records {
		switch m.Type {
		case dom.ChildList:
			if core.InsideGenerated(m.Target) && allGenerated(m.Added) && allGenerated(m.Removed) {
				continue
			}
			for _, n := range m.Added {
				r.collect(n)
			}
			if len(m.Removed) > 0 && !allGenerated(m.Removed) {
				relevant = true
			}
		case dom.Attributes:
			if m.Target.Data == "img" && !core.IsGenerated(m.Target) {
				r.enqueue(m.Target)
			}
		}
	}
	switch {
	case len(r.queue) >= r.policy.MutationMaxBatch:
		r.mutations.Poke()
		r.mutations.Flush()
	case len(r.queue) > 0 || relevant:
		r.mutations.Poke()
	}
}

func allGenerated(nodes []*html.Node) bool {
	for _, n := range nodes {
		if n.Type == html.ElementNode && !core.IsGenerated(n) {
			return false
		}
	}
	return true
}

// collect queues the images of an inserted subtree.
func (r *Reconciler) collect(n *html.Node) {
	dom.Walk(n, func(x *html.Node) bool {
		if x.Type != html.ElementNode {
			return false
		}
		if dom.HasAttr(x, core.AttrViewerActive) {
			return false
		}
		if x.Data == "img" && !core.IsGenerated(x) {
			r.enqueue(x)
		}
		return true
	})
}

func (r *Reconciler) enqueue(img *html.Node) {
	if _, ok := r.queued[img]; ok {
		return
	}
	r.queued[img] = struct{}{}
	r.queue = append(r.queue, img)
}

// flushMutations runs the sweeps, then the queued images in observation
// order.
func (r *Reconciler) flushMutations() {
	if r.disposed || r.ctx.Closed() {
		return
	}
	batch := r.queue
	r.queue = nil
	clear(r.queued)

	r.Sweep()
	for _, img := range batch {
		r.consider(img)
	}
	r.logger.Debug("Mutation batch reconciled.", zap.Int("images", len(batch)), zap.Int("tracked", r.ctx.Table.Len()))
}

// consider brings one image up to date: live records are left alone, stale
// ones are detached and the image is processed again once loaded.
func (r *Reconciler) consider(img *html.Node) {
	if !r.doc.IsConnected(img) || core.IsGenerated(img) || dom.HasAttr(img, core.AttrArtifact) {
		return
	}
	if insideActiveViewer(img) {
		return
	}

	if rec, ok := r.ctx.Table.Get(r.doc.ID(img)); ok {
		src := r.doc.CurrentSource(img)
		switch {
		case rec.Source != src:
			r.logger.Debug("Tracked image changed source.", zap.String("record", rec.ID), zap.String("source", src))
			r.detach(rec)
			r.ctx.Stats.StaleRepaired.Add(1)
		case r.deps.Strategist.Live(rec):
			return
		default:
			r.repair(rec, "surface no longer attached")
		}
	}

	if !r.doc.IsLoaded(img) {
		r.awaitLoad(img)
		return
	}
	r.deps.Process(img)
}

func insideActiveViewer(n *html.Node) bool {
	for p := dom.ParentElement(n); p != nil; p = dom.ParentElement(p) {
		if dom.HasAttr(p, core.AttrViewerActive) {
			return true
		}
	}
	return false
}

// awaitLoad defers an image until its load event.
func (r *Reconciler) awaitLoad(img *html.Node) {
	if _, waiting := r.loadWaits[img]; waiting {
		return
	}
	r.loadWaits[img] = r.doc.AddOnceListener(img, "load", func(*dom.Event) {
		delete(r.loadWaits, img)
		if r.disposed || r.ctx.Closed() {
			return
		}
		r.consider(img)
	})
}

// -- Scroll path --

// revalidateViewport checks every image near the viewport. Virtualized lists
// recycle subtrees without our nodes, so markers are verified against the
// document before they are trusted.
func (r *Reconciler) revalidateViewport() {
	if r.disposed || r.ctx.Closed() {
		return
	}
	r.Sweep()

	vw, vh := r.doc.Viewport()
	window := layout.Rect{Width: vw, Height: vh}.Inflate(r.policy.ScrollBuffer)
	checked := 0
	for _, img := range r.doc.Images() {
		if core.IsGenerated(img) || !window.Intersects(r.doc.BoundingRect(img)) {
			continue
		}
		checked++
		if !dom.HasAttr(img, core.AttrProcessed) {
			if !r.ctx.Table.Has(r.doc.ID(img)) {
				r.consider(img)
			}
			continue
		}
		rec, tracked := r.ctx.Table.Get(r.doc.ID(img))
		if tracked && r.deps.Strategist.Live(rec) {
			continue
		}
		if !tracked && r.deps.Strategist.FindSurface(img) != nil {
			continue
		}
		if tracked {
			r.repair(rec, "marker without a surface")
		} else {
			r.deps.Strategist.ClearMarker(img)
			r.ctx.Stats.StaleRepaired.Add(1)
		}
		r.consider(img)
	}
	r.logger.Debug("Viewport revalidated.", zap.Int("checked", checked))
}

// -- Sweeps --

// Sweep detaches records whose image left the document, repairs records
// whose surface was removed under them, and removes surfaces no live record
// owns, keeping the first per image. State held for removed nodes is then
// released.
func (r *Reconciler) Sweep() {
	var reprocess []*html.Node
	for _, rec := range r.ctx.Table.Records() {
		if !r.doc.IsConnected(rec.Image) {
			r.detach(rec)
			r.ctx.Stats.Detached.Add(1)
			continue
		}
		if !r.deps.Strategist.Live(rec) {
			r.repair(rec, "surface removed by the page")
			reprocess = append(reprocess, rec.Image)
		}
	}

	owners := make(map[*html.Node]*core.InjectionRecord, r.ctx.Table.Len())
	for _, rec := range r.ctx.Table.Records() {
		if rec.Zone != nil {
			owners[rec.Zone] = rec
		}
	}
	seen := make(map[dom.NodeID]bool)
	for _, zone := range r.deps.Strategist.Zones() {
		rec, owned := owners[zone]
		if owned && r.doc.IsConnected(rec.Image) && !seen[rec.Node] {
			seen[rec.Node] = true
			continue
		}
		r.deps.Strategist.RemoveOrphan(zone)
		r.ctx.Stats.Duplicates.Add(1)
		r.logger.Debug("Removed duplicate surface.", zap.String("for", dom.AttrOr(zone, core.AttrFor, "")))
	}

	for _, img := range reprocess {
		r.consider(img)
	}
	r.collectDetached()
}

// collectDetached drops load waits of images that left the document, then
// lets the document and the engine forget nodes that stayed out.
func (r *Reconciler) collectDetached() {
	for img, id := range r.loadWaits {
		if !r.doc.IsConnected(img) {
			r.doc.RemoveEventListener(id)
			delete(r.loadWaits, img)
		}
	}
	if n := r.doc.Collect(); n > 0 {
		r.logger.Debug("Forgot detached nodes.", zap.Int("nodes", n))
	}
	r.deps.Prune()
}

func (r *Reconciler) repair(rec *core.InjectionRecord, reason string) {
	err := &core.StaleError{RecordID: rec.ID, Reason: reason}
	r.logger.Debug("Repairing stale record.", zap.Error(err))
	r.detach(rec)
	r.ctx.Stats.StaleRepaired.Add(1)
}

func (r *Reconciler) detach(rec *core.InjectionRecord) {
	r.deps.Forget(rec)
	r.deps.Strategist.Detach(rec)
}
