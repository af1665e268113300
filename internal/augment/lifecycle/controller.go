// internal/augment/lifecycle/controller.go
package lifecycle

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/augment/inject"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/collab"
)

const timerAutoReset = "auto-reset"

const (
	corsNoticeTitle = "Some images cannot be converted"
	corsNoticeText  = "This site does not allow its images to be read by other pages, " +
		"so they cannot be sent for 3D conversion. Images hosted on the page's own " +
		"domain or on servers that send CORS headers will still work."
)

// Deps are the collaborators a Controller drives. Converter is required.
type Deps struct {
	Converter collab.Converter
	Fetcher   collab.Fetcher
	Viewers   collab.ViewerFactory
	Prefs     collab.Prefs
	Probe     collab.Probe
}

type noticeState int

const (
	noticeUnknown noticeState = iota
	noticePending
	noticeDone
)

// outcome is what a background conversion posts back to the loop.
type outcome struct {
	artifact   string
	err        error
	capability *collab.Capability
}

// Controller runs the per-image conversion lifecycle. Every method runs on
// the loop goroutine; only rasterization, conversion and preference I/O run
// off it.
type Controller struct {
	ctx    *core.Context
	doc    *dom.Document
	logger *zap.Logger
	policy core.Policy
	deps   Deps
	notify *Notifier

	pending    map[*core.InjectionRecord]*treatment
	capability *collab.Capability
	notice     noticeState
}

func New(ctx *core.Context, deps Deps) (*Controller, error) {
	if deps.Converter == nil {
		return nil, errors.New("lifecycle controller requires a converter")
	}
	if deps.Prefs == nil {
		deps.Prefs = collab.NewMemoryPrefs()
	}
	return &Controller{
		ctx:     ctx,
		doc:     ctx.Doc,
		logger:  ctx.Logger.Named("lifecycle"),
		policy:  ctx.Policy,
		deps:    deps,
		notify:  NewNotifier(ctx),
		pending: make(map[*core.InjectionRecord]*treatment),
	}, nil
}

// Notifier exposes the notification renderer.
func (c *Controller) Notifier() *Notifier { return c.notify }

// verify re-checks, right before acting, that rec is still the live record
// for its image.
func (c *Controller) verify(rec *core.InjectionRecord) error {
	if rec == nil {
		return core.ErrNotTracked
	}
	if cur, ok := c.ctx.Table.Get(rec.Node); !ok || cur != rec {
		return core.ErrNotTracked
	}
	if !c.doc.IsConnected(rec.Image) || !c.doc.IsConnected(rec.Surface) {
		return core.ErrDetached
	}
	return nil
}

// Trigger handles activation of rec's control surface. A ready record gets a
// fresh viewer, an errored one is retried, an idle one starts converting.
// A second trigger while a conversion runs returns core.ErrInFlight and
// changes nothing.
func (c *Controller) Trigger(rec *core.InjectionRecord) error {
	if c.ctx.Closed() {
		return core.ErrEngineClosed
	}
	if err := c.verify(rec); err != nil {
		return err
	}

	switch rec.State() {
	case core.StateReady:
		c.attachViewer(rec)
		return nil
	case core.StateError:
		rec.ClearTimer(timerAutoReset)
		if err := rec.Retry(); err != nil {
			return err
		}
		inject.RenderState(c.doc, rec)
	}

	if !c.ctx.Acquire(rec.Node) {
		c.ctx.Stats.InFlightReject.Add(1)
		c.logger.Debug("Trigger rejected, conversion in flight.", zap.String("record", rec.ID))
		return core.ErrInFlight
	}
	if err := rec.Begin(); err != nil {
		c.ctx.Release(rec.Node)
		return err
	}
	inject.RenderState(c.doc, rec)
	c.pending[rec] = applyTreatment(c.doc, rec.Image)
	snap := c.snapshot(rec)
	c.ctx.Stats.Conversions.Add(1)
	c.logger.Info("Conversion started.",
		zap.String("record", rec.ID),
		zap.String("source", snap.Source),
		zap.Int("attempt", rec.Attempts()),
	)

	parent := c.ctx.Ctx()
	c.ctx.Spawn(func() {
		out := c.convert(parent, snap)
		c.ctx.Post(func() { c.complete(rec, out) })
	})
	return nil
}

func (c *Controller) snapshot(rec *core.InjectionRecord) snapshot {
	st := c.doc.Image(rec.Image)
	src := c.doc.CurrentSource(rec.Image)
	return snapshot{
		Source:     src,
		Origin:     c.doc.Origin(),
		SameOrigin: c.doc.SameOrigin(src),
		Loaded:     c.doc.IsLoaded(rec.Image),
		Pixels:     st.Pixels,
		Natural:    core.Size{Width: float64(st.NaturalWidth), Height: float64(st.NaturalHeight)},
	}
}

// convert runs off the loop. It reads only snap.
func (c *Controller) convert(parent context.Context, snap snapshot) outcome {
	var out outcome
	if c.deps.Probe != nil {
		capability := c.deps.Probe.Probe(parent)
		out.capability = &capability
	}

	r, err := c.rasterize(parent, snap)
	if err != nil {
		out.err = err
		return out
	}

	ctx, cancel := context.WithTimeout(parent, c.policy.ConversionTimeout)
	defer cancel()
	req := collab.ConversionRequest{
		Payload: r.payload,
		Width:   r.bounds.Dx(),
		Height:  r.bounds.Dy(),
		Source:  snap.Source,
	}
	select {
	case res := <-c.deps.Converter.Submit(ctx, req):
		out.artifact, out.err = res.Artifact, res.Err
	case <-ctx.Done():
		out.err = ctx.Err()
	}
	if out.err == nil && out.artifact == "" {
		out.err = errors.New("conversion returned no artifact")
	}
	return out
}

// complete settles a conversion on the loop.
// The in-flight claim is released here even for forgotten records, so a
// replacement record for the same image cannot start a second conversion.
func (c *Controller) complete(rec *core.InjectionRecord, out outcome) {
	c.ctx.Release(rec.Node)
	tr, ok := c.pending[rec]
	if !ok {
		// Forgotten while converting.
		return
	}
	delete(c.pending, rec)
	tr.restore()
	if out.capability != nil {
		c.capability = out.capability
	}

	if err := c.verify(rec); err != nil {
		c.logger.Debug("Dropping conversion result.", zap.String("record", rec.ID), zap.Error(err))
		return
	}
	if out.err != nil {
		c.fail(rec, out.err)
		return
	}
	if err := rec.Succeed(out.artifact); err != nil {
		c.logger.Warn("Could not store artifact.", zap.String("record", rec.ID), zap.Error(err))
		return
	}
	inject.RenderState(c.doc, rec)
	c.logger.Info("Conversion finished.", zap.String("record", rec.ID), zap.String("artifact", out.artifact))
	c.attachViewer(rec)
}

func (c *Controller) fail(rec *core.InjectionRecord, err error) {
	f := Classify(err)
	if terr := rec.Fail(f); terr != nil {
		c.logger.Warn("Could not record failure.", zap.String("record", rec.ID), zap.Error(terr))
		return
	}
	c.ctx.Stats.Failures.Add(1)
	inject.RenderState(c.doc, rec)
	c.logger.Warn("Conversion failed.",
		zap.String("record", rec.ID),
		zap.Stringer("kind", f.Kind),
		zap.Error(f.Err),
	)
	c.notify.Toast(inject.Label(core.StateError, f))

	switch {
	case f.Kind.Retryable():
		c.scheduleReset(rec)
	case f.Kind == core.FailureCORS:
		c.showCORSNotice()
	}
}

// scheduleReset returns an errored surface to idle after the auto-reset delay.
func (c *Controller) scheduleReset(rec *core.InjectionRecord) {
	l := c.ctx.Loop
	id := l.SetTimeout(c.policy.AutoResetDelay, func() {
		if rec.State() != core.StateError || c.verify(rec) != nil {
			return
		}
		if err := rec.Retry(); err != nil {
			return
		}
		inject.RenderState(c.doc, rec)
		c.logger.Debug("Surface reset after transient failure.", zap.String("record", rec.ID))
	})
	rec.SetTimer(timerAutoReset, func() { l.ClearTimeout(id) })
}

// showCORSNotice shows the CORS explanation once per preference store.
func (c *Controller) showCORSNotice() {
	if c.notice != noticeUnknown {
		return
	}
	c.notice = noticePending
	prefs := c.deps.Prefs
	parent := c.ctx.Ctx()
	c.ctx.Spawn(func() {
		shown, err := collab.GetBool(parent, prefs, core.PrefCORSNoticeShown)
		if err != nil {
			c.logger.Warn("Could not read notice preference.", zap.Error(err))
		}
		c.ctx.Post(func() {
			c.notice = noticeDone
			if shown {
				return
			}
			c.notify.Notice(corsNoticeTitle, corsNoticeText)
			c.ctx.Spawn(func() {
				if err := collab.SetBool(parent, prefs, core.PrefCORSNoticeShown, true); err != nil {
					c.logger.Warn("Could not persist notice preference.", zap.Error(err))
				}
			})
		})
	})
}

// -- Viewer --

func (c *Controller) attachViewer(rec *core.InjectionRecord) {
	if c.deps.Viewers == nil {
		return
	}
	artifact, ok := rec.Artifact()
	if !ok {
		return
	}
	c.closeViewer(rec)

	target := c.ResolveTarget(rec)
	opts := collab.ViewerOptions{Width: target.Width, Height: target.Height}
	if c.capability != nil {
		opts.Immersive = c.capability.Supported
	}
	id := rec.ID
	v, err := c.deps.Viewers.CreateForLayout(artifact, rec.Container, rec.Image, rec.Layout, opts, func(err error) {
		if err != nil {
			c.logger.Debug("Viewer did not become ready.", zap.String("record", id), zap.Error(err))
			return
		}
		c.logger.Debug("Viewer ready.", zap.String("record", id))
	})
	if err != nil {
		c.logger.Warn("Viewer attachment failed.", zap.String("record", id), zap.Error(err))
		c.notify.Toast("Could not open the 3D viewer")
		return
	}
	rec.Viewer = v
}

func (c *Controller) closeViewer(rec *core.InjectionRecord) {
	if v, ok := rec.Viewer.(collab.Viewer); ok {
		v.Close()
	}
	rec.Viewer = nil
}

// ResolveTarget picks the viewer size: stored target attributes, then the
// container box, then the natural image size, then the policy default.
func (c *Controller) ResolveTarget(rec *core.InjectionRecord) core.Size {
	w, werr := strconv.ParseFloat(dom.AttrOr(rec.Image, core.AttrTargetWidth, ""), 64)
	h, herr := strconv.ParseFloat(dom.AttrOr(rec.Image, core.AttrTargetHeight, ""), 64)
	if s := (core.Size{Width: w, Height: h}); werr == nil && herr == nil && !s.IsZero() {
		return s
	}
	if rec.Container != nil && c.doc.IsConnected(rec.Container) {
		r := c.doc.BoundingRect(rec.Container)
		if s := (core.Size{Width: r.Width, Height: r.Height}); !s.IsZero() {
			return s
		}
	}
	st := c.doc.Image(rec.Image)
	if s := (core.Size{Width: float64(st.NaturalWidth), Height: float64(st.NaturalHeight)}); !s.IsZero() {
		return s
	}
	return c.policy.DefaultTarget
}

// -- External control --

// Reset returns a ready record to idle and closes its viewer.
func (c *Controller) Reset(rec *core.InjectionRecord) error {
	if err := c.verify(rec); err != nil {
		return err
	}
	if err := rec.ExternalReset(); err != nil {
		return err
	}
	c.closeViewer(rec)
	inject.RenderState(c.doc, rec)
	return nil
}

// Forget drops lifecycle state for a record that is being detached: its
// viewer closes and the processing look is undone. A conversion still
// running for it keeps the image claimed until its result lands, and the
// result is then discarded.
func (c *Controller) Forget(rec *core.InjectionRecord) {
	rec.ClearTimer(timerAutoReset)
	c.closeViewer(rec)
	if tr, ok := c.pending[rec]; ok {
		delete(c.pending, rec)
		tr.restore()
	}
}

// Shutdown forgets conversions still in flight and clears notifications.
func (c *Controller) Shutdown() {
	for rec := range c.pending {
		c.Forget(rec)
	}
	c.notify.Clear()
}
