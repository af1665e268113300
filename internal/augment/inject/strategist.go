// internal/augment/inject/strategist.go
package inject

import (
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/style"
)

// ActivateFunc is called when the user clicks a control surface.
type ActivateFunc func(rec *core.InjectionRecord)

// Strategist places control surfaces next to eligible images and removes
// them again. All methods run on the loop goroutine.
type Strategist struct {
	ctx      *core.Context
	logger   *zap.Logger
	policy   core.Policy
	activate ActivateFunc
}

func New(ctx *core.Context, activate ActivateFunc) *Strategist {
	return &Strategist{
		ctx:      ctx,
		logger:   ctx.Logger.Named("injector"),
		policy:   ctx.Policy,
		activate: activate,
	}
}

// structuralAttrs mark images whose element is managed by the host page
// (responsive sources, lazy loaders). Those are never re-parented.
var structuralAttrs = []string{"srcset", "sizes", "data-srcset", "data-src", "data-lazy"}

// Choose picks the placement strategy for a candidate.
func (s *Strategist) Choose(cand core.Candidate, lay core.LayoutClassification) core.Strategy {
	if cand.InPicture || lay.PreserveOriginal {
		return core.StrategyOverlay
	}
	for _, a := range structuralAttrs {
		if dom.HasAttr(cand.Node, a) {
			return core.StrategyOverlay
		}
	}
	return core.StrategyWrap
}

// Inject creates the control surface for cand and registers its record.
// It returns core.ErrConflict when the image already has a live surface and
// core.ErrDetached when the node left the document.
func (s *Strategist) Inject(cand core.Candidate, lay core.LayoutClassification) (*core.InjectionRecord, error) {
	doc := s.ctx.Doc
	img := cand.Node
	if img == nil || !doc.IsConnected(img) || dom.ParentElement(img) == nil {
		return nil, core.ErrDetached
	}
	id := doc.ID(img)
	if err := s.checkExisting(img, id); err != nil {
		s.ctx.Stats.Conflicts.Add(1)
		return nil, err
	}

	strategy := s.Choose(cand, lay)
	rec := core.NewRecord(id, img, cand.Source, strategy, s.ctx.Loop.Now())
	rec.Layout = lay

	var err error
	switch strategy {
	case core.StrategyOverlay:
		err = s.overlay(rec, cand, lay)
	default:
		err = s.wrap(rec, cand, lay)
	}
	if err != nil {
		rec.RunDetach()
		return nil, err
	}
	s.mark(rec, lay)

	s.ctx.Table.Put(rec)
	s.ctx.Stats.Injected.Add(1)
	s.logger.Debug("Control surface injected.",
		zap.String("record", rec.ID),
		zap.Stringer("strategy", strategy),
		zap.Stringer("layout", lay.Kind),
		zap.String("xpath", dom.GenerateUniqueXPath(img)),
	)
	return rec, nil
}

// checkExisting enforces one surface per image. A record or marker whose
// surface has disappeared is repaired so injection can proceed.
func (s *Strategist) checkExisting(img *html.Node, id dom.NodeID) error {
	if rec, ok := s.ctx.Table.Get(id); ok {
		if s.Live(rec) {
			return core.ErrConflict
		}
		s.logger.Debug("Repairing stale record.", zap.Error(&core.StaleError{RecordID: rec.ID, Reason: "surface missing"}))
		s.Detach(rec)
		s.ctx.Stats.StaleRepaired.Add(1)
	}
	if s.FindSurface(img) != nil {
		return core.ErrConflict
	}
	if dom.HasAttr(img, core.AttrProcessed) {
		s.ClearMarker(img)
		s.ctx.Stats.StaleRepaired.Add(1)
	}
	return nil
}

// Live reports whether rec still has its surface attached next to its image.
func (s *Strategist) Live(rec *core.InjectionRecord) bool {
	doc := s.ctx.Doc
	if !doc.IsConnected(rec.Image) || !doc.IsConnected(rec.Surface) {
		return false
	}
	return s.FindSurface(rec.Image) == rec.Zone
}

// Detach reverses every DOM change made for rec and forgets it.
func (s *Strategist) Detach(rec *core.InjectionRecord) {
	rec.CancelTimers()
	rec.RunDetach()
	if cur, ok := s.ctx.Table.Get(rec.Node); ok && cur == rec {
		s.ctx.Table.Remove(rec.Node)
	}
}

// -- Overlay --

func (s *Strategist) overlay(rec *core.InjectionRecord, cand core.Candidate, lay core.LayoutClassification) error {
	doc := s.ctx.Doc
	host := s.OverlayHost(cand.Node, lay)
	if host == nil {
		return core.ErrDetached
	}
	s.ensurePositioned(rec, host)

	layer := s.generated("div", core.ClassOverlay)
	doc.SetAttr(layer, core.AttrFor, forValue(rec.Node))
	for _, d := range [][2]string{
		{"position", "absolute"},
		{"pointer-events", "none"},
		{"z-index", "2147483000"},
	} {
		doc.SetStyle(layer, d[0], d[1])
	}
	s.place(layer, host, cand.Node)
	doc.AppendChild(host, layer)
	rec.OnDetach(func() { doc.Remove(layer) })

	rec.Container = host
	rec.Overlay = layer
	s.attachZone(rec, layer)
	return nil
}

// OverlayHost picks the ancestor that receives the overlay layer: the
// padding container found by layout analysis, else the nearest ancestor with
// percentage padding, else the nearest block-level ancestor.
func (s *Strategist) OverlayHost(img *html.Node, lay core.LayoutClassification) *html.Node {
	chain := core.Ancestors(img, s.policy.OverlayHostDepth)
	if lay.PaddingContainer != nil {
		for _, a := range chain {
			if a == lay.PaddingContainer {
				return a
			}
		}
	}
	for _, a := range chain {
		if hasPercentPadding(s.ctx.Doc.ComputedStyle(a)) {
			return a
		}
	}
	for _, a := range chain {
		if s.hostable(a) {
			return a
		}
	}
	return nil
}

func (s *Strategist) hostable(n *html.Node) bool {
	if dom.IsElement(n, "picture", "html") || core.IsGenerated(n) {
		return false
	}
	switch s.ctx.Doc.ComputedStyle(n).Display() {
	case style.DisplayInline, style.DisplayContents, style.DisplayNone:
		return false
	}
	return true
}

func hasPercentPadding(c *style.Computed) bool {
	if c == nil {
		return false
	}
	for _, side := range []string{"padding-bottom", "padding-top"} {
		if v := c.Get(side, "0"); style.IsPercentage(v) && !style.IsZeroOrAuto(v) {
			return true
		}
	}
	return false
}

// ensurePositioned gives a static host a containing block for the overlay.
// Non-static hosts are left alone.
func (s *Strategist) ensurePositioned(rec *core.InjectionRecord, host *html.Node) {
	doc := s.ctx.Doc
	if doc.ComputedStyle(host).Position().IsPositioned() {
		return
	}
	prev, had := doc.InlineStyle(host, "position")
	doc.SetStyle(host, "position", "relative")
	rec.OnDetach(func() {
		if had {
			doc.SetStyle(host, "position", prev)
			return
		}
		doc.RemoveStyle(host, "position")
	})
}

// place sizes the layer over img inside host's padding box. An image that
// fills the box gets percentage insets so the layer follows resizes.
func (s *Strategist) place(layer, host, img *html.Node) {
	doc := s.ctx.Doc
	ir := doc.BoundingRect(img)
	hr := doc.BoundingRect(host)
	var bl, bt, bw, bh float64
	if b := doc.LayoutBox(host); b != nil {
		bl, bt = b.Dimensions.Border.Left, b.Dimensions.Border.Top
		pb := b.Dimensions.PaddingBox()
		bw, bh = pb.Width, pb.Height
	}
	left := ir.X - (hr.X + bl)
	top := ir.Y - (hr.Y + bt)
	if near(left, 0) && near(top, 0) && near(ir.Width, bw) && near(ir.Height, bh) {
		doc.SetStyle(layer, "left", "0")
		doc.SetStyle(layer, "top", "0")
		doc.SetStyle(layer, "width", "100%")
		doc.SetStyle(layer, "height", "100%")
		return
	}
	doc.SetStyle(layer, "left", px(left))
	doc.SetStyle(layer, "top", px(top))
	doc.SetStyle(layer, "width", px(ir.Width))
	doc.SetStyle(layer, "height", px(ir.Height))
}

// -- Wrap --

func (s *Strategist) wrap(rec *core.InjectionRecord, cand core.Candidate, lay core.LayoutClassification) error {
	doc := s.ctx.Doc
	img := cand.Node
	parent := img.Parent
	if parent == nil {
		return core.ErrDetached
	}

	wrapper := s.generated("div", core.ClassWrap)
	display := "inline-block"
	if doc.ComputedStyle(img).Display() == style.DisplayBlock {
		display = "block"
	}
	doc.SetStyle(wrapper, "display", display)
	if lay.IsAmbiguous() && !cand.Rect.IsEmpty() {
		doc.SetStyle(wrapper, "width", px(cand.Rect.Width))
		doc.SetStyle(wrapper, "height", px(cand.Rect.Height))
	}

	doc.InsertBefore(parent, wrapper, img)
	doc.AppendChild(wrapper, img)
	rec.OnDetach(func() {
		if wrapper.Parent != nil && img.Parent == wrapper {
			doc.InsertBefore(wrapper.Parent, img, wrapper)
		}
		doc.Remove(wrapper)
	})
	if !doc.ComputedStyle(wrapper).Position().IsPositioned() {
		doc.SetStyle(wrapper, "position", "relative")
	}

	rec.Container = wrapper
	s.attachZone(rec, wrapper)
	return nil
}

// -- Markers --

func (s *Strategist) mark(rec *core.InjectionRecord, lay core.LayoutClassification) {
	doc := s.ctx.Doc
	img := rec.Image
	doc.SetAttr(img, core.AttrProcessed, rec.ID)
	if lay.Target != nil && !lay.Target.IsZero() {
		doc.SetAttr(img, core.AttrTargetWidth, strconv.FormatFloat(lay.Target.Width, 'f', 0, 64))
		doc.SetAttr(img, core.AttrTargetHeight, strconv.FormatFloat(lay.Target.Height, 'f', 0, 64))
	}
	rec.OnDetach(func() { s.ClearMarker(img) })
}

// ClearMarker removes the processed marker and target hints from img.
func (s *Strategist) ClearMarker(img *html.Node) {
	doc := s.ctx.Doc
	for _, a := range []string{core.AttrProcessed, core.AttrTargetWidth, core.AttrTargetHeight} {
		doc.RemoveAttr(img, a)
	}
}

// -- Helpers --

func (s *Strategist) generated(tag, class string) *html.Node {
	n := s.ctx.Doc.CreateElement(tag)
	n.Attr = append(n.Attr,
		html.Attribute{Key: "class", Val: class},
		html.Attribute{Key: core.AttrGenerated, Val: "true"},
	)
	return n
}

func forValue(id dom.NodeID) string { return strconv.FormatUint(uint64(id), 10) }

func px(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) + "px" }

func near(a, b float64) bool {
	d := a - b
	return d < 0.5 && d > -0.5
}
