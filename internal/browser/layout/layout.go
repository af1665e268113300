// internal/browser/layout/layout.go
package layout

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/depthlens/internal/browser/style"
	"golang.org/x/net/html"
)

// -- Layout Tree (Box Tree) --

// BoxKind defines the type of box generated by a node.
type BoxKind int

const (
	BlockBox BoxKind = iota
	InlineBox
	InlineBlockBox
	ReplacedBox
	TextBox
	FlexContainer
	GridContainer
)

// Box is a node in the layout tree. Coordinates are document coordinates
// before transforms; Transform maps them to their painted position.
type Box struct {
	Node       *html.Node
	Style      *style.Computed
	Kind       BoxKind
	Dimensions Dimensions
	Transform  TransformMatrix
	Parent     *Box
	Children   []*Box

	display  style.Display
	position style.Position
	order    int
	// Static position of out-of-flow boxes, relative to the parent's content origin.
	staticX, staticY float64
}

// IsOutOfFlow reports absolute and fixed boxes.
func (b *Box) IsOutOfFlow() bool { return b.position.IsOutOfFlow() }

// InFixed reports whether the box or an ancestor is position:fixed, meaning it
// does not move with document scroll.
func (b *Box) InFixed() bool {
	for x := b; x != nil; x = x.Parent {
		if x.Kind != TextBox && x.position == style.PositionFixed {
			return true
		}
	}
	return false
}

func (b *Box) isInlineLevel() bool {
	if b.IsOutOfFlow() {
		return false
	}
	return b.Kind == TextBox || b.display.IsInlineLevel()
}

// StyleLookup returns the computed style of an element.
type StyleLookup func(n *html.Node) *style.Computed

// IntrinsicSizer reports the natural size of replaced content, such as the
// decoded dimensions of a loaded image.
type IntrinsicSizer func(n *html.Node) (width, height float64, ok bool)

type containingBlock struct {
	rect           Rect
	definiteHeight bool
}

// Engine computes box geometry for a document.
type Engine struct {
	viewportWidth  float64
	viewportHeight float64
	styles         StyleLookup
	intrinsic      IntrinsicSizer

	queue     []*Box
	queued    map[*Box]bool
	nextOrder int
}

// NewEngine creates a layout engine. intrinsic may be nil.
func NewEngine(viewportWidth, viewportHeight float64, styles StyleLookup, intrinsic IntrinsicSizer) *Engine {
	return &Engine{
		viewportWidth:  viewportWidth,
		viewportHeight: viewportHeight,
		styles:         styles,
		intrinsic:      intrinsic,
	}
}

func (e *Engine) viewport() Rect {
	return Rect{Width: e.viewportWidth, Height: e.viewportHeight}
}

// Layout builds and lays out the box tree for the document rooted at doc.
func (e *Engine) Layout(doc *html.Node) *Tree {
	e.queue = nil
	e.queued = make(map[*Box]bool)
	e.nextOrder = 0

	rootEl := documentElement(doc)
	if rootEl == nil {
		return newTree(nil)
	}
	boxes := e.build(rootEl, nil)
	if len(boxes) == 0 {
		return newTree(nil)
	}
	root := boxes[0]
	e.layoutBlockLevel(root, 0, 0, containingBlock{rect: e.viewport(), definiteHeight: true})
	for i := 0; i < len(e.queue); i++ {
		e.layoutOutOfFlow(e.queue[i])
	}
	e.queue = nil
	e.applyTransforms(root, IdentityMatrix())
	return newTree(root)
}

func documentElement(doc *html.Node) *html.Node {
	if doc == nil {
		return nil
	}
	if doc.Type == html.ElementNode {
		return doc
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// build returns the boxes generated by n. display:contents yields the
// children's boxes; display:none yields nothing.
func (e *Engine) build(n *html.Node, parent *Box) []*Box {
	switch n.Type {
	case html.TextNode:
		if parent == nil || strings.TrimSpace(n.Data) == "" || parent.Kind == ReplacedBox {
			return nil
		}
		e.nextOrder++
		return []*Box{{Node: n, Style: parent.Style, Kind: TextBox, Parent: parent, display: style.DisplayInline, order: e.nextOrder}}
	case html.ElementNode:
	default:
		return nil
	}

	st := e.styles(n)
	d := st.Display()
	if d == style.DisplayNone {
		return nil
	}
	if d == style.DisplayContents {
		var out []*Box
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			out = append(out, e.build(c, parent)...)
		}
		return out
	}

	e.nextOrder++
	b := &Box{Node: n, Style: st, Parent: parent, display: d, position: st.Position(), order: e.nextOrder}
	switch {
	case isReplaced(n):
		b.Kind = ReplacedBox
	case d.IsFlex():
		b.Kind = FlexContainer
	case d.IsGrid():
		b.Kind = GridContainer
	case d == style.DisplayInlineBlock:
		b.Kind = InlineBlockBox
	case d == style.DisplayInline:
		b.Kind = InlineBox
	default:
		b.Kind = BlockBox
	}
	// Out-of-flow boxes are blockified.
	if b.IsOutOfFlow() && (b.Kind == InlineBox || b.Kind == InlineBlockBox) {
		b.Kind = BlockBox
	}
	if b.Kind != ReplacedBox {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			b.Children = append(b.Children, e.build(c, b)...)
		}
	}
	return []*Box{b}
}

func isReplaced(n *html.Node) bool {
	switch n.Data {
	case "img", "video", "canvas", "iframe", "embed", "object", "svg":
		return true
	}
	return false
}

// -- Edges and Sizes --

// resolveEdges fills padding, border and margin. Percentages on every side
// resolve against the containing block width. Reports auto horizontal margins.
func (e *Engine) resolveEdges(b *Box, refWidth float64) (autoLeft, autoRight bool) {
	if b.Kind == TextBox {
		b.Dimensions.Padding, b.Dimensions.Border, b.Dimensions.Margin = Edges{}, Edges{}, Edges{}
		return false, false
	}
	st := b.Style
	side := func(prop string) float64 {
		v, _ := st.Length(prop, refWidth)
		return v
	}
	border := func(prop string) float64 {
		if st.Get("border-style", "solid") == "none" && !st.Has(prop) {
			return 0
		}
		switch st.Get(prop, "0") {
		case "thin":
			return 1
		case "medium":
			return 3
		case "thick":
			return 5
		}
		return math.Max(0, side(prop))
	}
	d := &b.Dimensions
	d.Padding = Edges{
		Top: math.Max(0, side("padding-top")), Right: math.Max(0, side("padding-right")),
		Bottom: math.Max(0, side("padding-bottom")), Left: math.Max(0, side("padding-left")),
	}
	d.Border = Edges{
		Top: border("border-top-width"), Right: border("border-right-width"),
		Bottom: border("border-bottom-width"), Left: border("border-left-width"),
	}
	d.Margin = Edges{
		Top: side("margin-top"), Right: side("margin-right"),
		Bottom: side("margin-bottom"), Left: side("margin-left"),
	}
	return st.Get("margin-left", "0") == "auto", st.Get("margin-right", "0") == "auto"
}

// specifiedWidth returns the content width from the width property.
func (e *Engine) specifiedWidth(b *Box, refWidth float64) (float64, bool) {
	if b.Kind == TextBox || b.Kind == InlineBox {
		return 0, false
	}
	w, ok := b.Style.Length("width", refWidth)
	if !ok {
		return 0, false
	}
	if b.Style.BorderBox() {
		w -= b.Dimensions.innerHorizontal()
	}
	return math.Max(0, w), true
}

// specifiedHeight returns the content height from the height property.
// Percentages against an indefinite containing block height behave as auto.
func (e *Engine) specifiedHeight(b *Box, cb containingBlock) (float64, bool) {
	if b.Kind == TextBox || b.Kind == InlineBox {
		return 0, false
	}
	v := b.Style.Get("height", "auto")
	if strings.Contains(v, "%") && !cb.definiteHeight {
		return 0, false
	}
	h, ok := style.ParseLength(v, b.Style.LengthContext(cb.rect.Height))
	if !ok {
		return 0, false
	}
	if b.Style.BorderBox() {
		h -= b.Dimensions.innerVertical()
	}
	return math.Max(0, h), true
}

func (e *Engine) clampWidth(b *Box, w, refWidth float64) float64 {
	if b.Kind == TextBox || b.Kind == InlineBox {
		return w
	}
	adjust := 0.0
	if b.Style.BorderBox() {
		adjust = b.Dimensions.innerHorizontal()
	}
	if mx, ok := b.Style.Length("max-width", refWidth); ok && w > mx-adjust {
		w = math.Max(0, mx-adjust)
	}
	if mn, ok := b.Style.Length("min-width", refWidth); ok && w < mn-adjust {
		w = mn - adjust
	}
	return w
}

func (e *Engine) clampHeight(b *Box, h float64, cb containingBlock) float64 {
	if b.Kind == TextBox || b.Kind == InlineBox {
		return h
	}
	adjust := 0.0
	if b.Style.BorderBox() {
		adjust = b.Dimensions.innerVertical()
	}
	length := func(prop string) (float64, bool) {
		v := b.Style.Get(prop, "none")
		if strings.Contains(v, "%") && !cb.definiteHeight {
			return 0, false
		}
		return style.ParseLength(v, b.Style.LengthContext(cb.rect.Height))
	}
	if mx, ok := length("max-height"); ok && h > mx-adjust {
		h = math.Max(0, mx-adjust)
	}
	if mn, ok := length("min-height"); ok && h < mn-adjust {
		h = mn - adjust
	}
	return h
}

// aspectRatio parses the aspect-ratio property ("16 / 9", "1.5").
func aspectRatio(st *style.Computed) (float64, bool) {
	v := strings.TrimSpace(strings.TrimPrefix(st.Get("aspect-ratio", "auto"), "auto"))
	if v == "" {
		return 0, false
	}
	parts := strings.Split(v, "/")
	w, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || w <= 0 {
		return 0, false
	}
	h := 1.0
	if len(parts) > 1 {
		h, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || h <= 0 {
			return 0, false
		}
	}
	return w / h, true
}

// -- Replaced Elements --

// intrinsicSize prefers the decoded natural size and falls back to nothing.
func (e *Engine) intrinsicSize(n *html.Node) (float64, float64, bool) {
	if e.intrinsic == nil {
		return 0, 0, false
	}
	w, h, ok := e.intrinsic(n)
	if !ok || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func attrLength(n *html.Node, key string) (float64, bool) {
	for _, a := range n.Attr {
		if a.Key != key {
			continue
		}
		v := strings.TrimSuffix(strings.TrimSpace(a.Val), "px")
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// replacedSize resolves the content size of a replaced element from CSS, then
// presentational width/height attributes, then the natural size, keeping the
// aspect ratio whenever only one side is known.
func (e *Engine) replacedSize(b *Box, cb containingBlock) (float64, float64) {
	n, st := b.Node, b.Style
	iw, ih, hasIntrinsic := e.intrinsicSize(n)
	ratio := 0.0
	if hasIntrinsic {
		ratio = iw / ih
	}

	w, wOK := e.specifiedWidth(b, cb.rect.Width)
	h, hOK := e.specifiedHeight(b, cb)
	if !wOK && !st.Has("width") {
		w, wOK = attrLength(n, "width")
	}
	if !hOK && !st.Has("height") {
		h, hOK = attrLength(n, "height")
	}
	if ratio == 0 {
		aw, awOK := attrLength(n, "width")
		ah, ahOK := attrLength(n, "height")
		if awOK && ahOK && aw > 0 && ah > 0 {
			ratio = aw / ah
		} else if r, ok := aspectRatio(st); ok {
			ratio = r
		}
	}

	defW, defH := 0.0, 0.0
	if n.Data != "img" {
		defW, defH = 300, 150
	}
	switch {
	case wOK && hOK:
	case wOK:
		switch {
		case ratio > 0:
			h = w / ratio
		case hasIntrinsic:
			h = ih
		default:
			h = defH
		}
	case hOK:
		switch {
		case ratio > 0:
			w = h * ratio
		case hasIntrinsic:
			w = iw
		default:
			w = defW
		}
	case hasIntrinsic:
		w, h = iw, ih
	default:
		w, h = defW, defH
	}

	if clamped := e.clampWidth(b, w, cb.rect.Width); clamped != w {
		if !hOK && ratio > 0 {
			h = clamped / ratio
		}
		w = clamped
	}
	if clamped := e.clampHeight(b, h, cb); clamped != h {
		if !wOK && ratio > 0 {
			w = clamped * ratio
		}
		h = clamped
	}
	return math.Max(0, w), math.Max(0, h)
}

// -- Flow Layout --

// layoutBlockLevel lays out an in-flow block-level box whose margin box starts
// at (x, y).
func (e *Engine) layoutBlockLevel(b *Box, x, y float64, cb containingBlock) {
	autoL, autoR := e.resolveEdges(b, cb.rect.Width)
	d := &b.Dimensions

	if b.Kind == ReplacedBox {
		w, h := e.replacedSize(b, cb)
		e.centerAutoMargins(b, w, cb.rect.Width, autoL, autoR)
		d.Content = Rect{X: x + d.Margin.Left + d.Border.Left + d.Padding.Left, Y: y + d.Margin.Top + d.Border.Top + d.Padding.Top, Width: w, Height: h}
		e.applyRelativeOffset(b, cb)
		return
	}

	width, ok := e.specifiedWidth(b, cb.rect.Width)
	if !ok {
		width = cb.rect.Width - d.innerHorizontal() - d.Margin.Horizontal()
	}
	width = math.Max(0, e.clampWidth(b, width, cb.rect.Width))
	if ok {
		e.centerAutoMargins(b, width, cb.rect.Width, autoL, autoR)
	}
	e.layoutAt(b, x, y, width, cb)
}

func (e *Engine) centerAutoMargins(b *Box, width, cbWidth float64, autoL, autoR bool) {
	d := &b.Dimensions
	free := cbWidth - width - d.innerHorizontal() - d.Margin.Horizontal()
	if free <= 0 {
		return
	}
	switch {
	case autoL && autoR:
		d.Margin.Left += free / 2
		d.Margin.Right += free / 2
	case autoL:
		d.Margin.Left += free
	}
}

// layoutAt places the margin box at (x, y) with a fixed content width and lays
// out the contents. Edges must already be resolved.
func (e *Engine) layoutAt(b *Box, x, y, width float64, cb containingBlock) {
	e.layoutSized(b, x, y, width, 0, false, cb)
}

// layoutSized is layoutAt with an optional used content height that overrides
// the height property, as produced by top/bottom stretching.
func (e *Engine) layoutSized(b *Box, x, y, width, forcedHeight float64, forced bool, cb containingBlock) {
	d := &b.Dimensions
	d.Content.X = x + d.Margin.Left + d.Border.Left + d.Padding.Left
	d.Content.Y = y + d.Margin.Top + d.Border.Top + d.Padding.Top
	d.Content.Width = width
	e.applyRelativeOffset(b, cb)

	if b.Kind == ReplacedBox {
		rw, rh := e.replacedSize(b, cb)
		if rw > 0 && rw != width {
			if _, hOK := e.specifiedHeight(b, cb); !hOK {
				rh = rh * width / rw
			}
		}
		d.Content.Height = rh
		return
	}

	h, hDefinite := e.specifiedHeight(b, cb)
	if forced {
		h, hDefinite = forcedHeight, true
	}
	own := containingBlock{rect: Rect{X: d.Content.X, Y: d.Content.Y, Width: width, Height: h}, definiteHeight: hDefinite}
	contentH := e.layoutInner(b, own)
	if !hDefinite {
		h = contentH
		if r, ok := aspectRatio(b.Style); ok && b.Kind != InlineBox && contentH == 0 {
			h = width / r
		}
	}
	d.Content.Height = e.clampHeight(b, h, cb)
}

func (e *Engine) layoutInner(b *Box, own containingBlock) float64 {
	switch b.Kind {
	case FlexContainer:
		return e.layoutFlex(b, own)
	case GridContainer:
		return e.layoutGrid(b, own)
	default:
		return e.layoutFlow(b, own)
	}
}

func (e *Engine) applyRelativeOffset(b *Box, cb containingBlock) {
	if b.position != style.PositionRelative {
		return
	}
	st := b.Style
	dx, dy := 0.0, 0.0
	if l, ok := st.Length("left", cb.rect.Width); ok {
		dx = l
	} else if r, ok := st.Length("right", cb.rect.Width); ok {
		dx = -r
	}
	if t, ok := st.Length("top", cb.rect.Height); ok {
		dy = t
	} else if bt, ok := st.Length("bottom", cb.rect.Height); ok {
		dy = -bt
	}
	b.Dimensions.Content.X += dx
	b.Dimensions.Content.Y += dy
}

type lineState struct {
	left, right float64
	x, y        float64
	height      float64
	used        bool
}

func (l *lineState) reset(y float64) {
	l.x, l.y, l.height, l.used = l.left, y, 0, false
}

// layoutFlow stacks block-level children and packs inline-level children into
// line boxes. Returns the content height.
func (e *Engine) layoutFlow(b *Box, own containingBlock) float64 {
	content := b.Dimensions.Content
	cursorY := content.Y
	line := lineState{left: content.X, right: content.X + content.Width}
	line.reset(cursorY)
	flush := func() {
		if line.used {
			cursorY = line.y + line.height
		}
		line.reset(cursorY)
	}

	for _, c := range b.Children {
		switch {
		case c.IsOutOfFlow():
			if line.used {
				c.staticX, c.staticY = line.x-content.X, line.y-content.Y
			} else {
				c.staticX, c.staticY = 0, cursorY-content.Y
			}
			e.enqueue(c)
		case c.isInlineLevel():
			e.placeInline(c, &line, own)
		default:
			flush()
			e.layoutBlockLevel(c, content.X, cursorY, own)
			cursorY += c.Dimensions.MarginBox().Height
			line.reset(cursorY)
		}
	}
	flush()
	return cursorY - content.Y
}

func (e *Engine) placeInline(c *Box, line *lineState, own containingBlock) {
	e.layoutInlineLevel(c, line.right-line.left, own)
	mb := c.Dimensions.MarginBox()
	if line.used && line.x+mb.Width > line.right+0.01 {
		line.y += line.height
		line.x = line.left
		line.height = 0
	}
	shift(c, line.x-mb.X, line.y-mb.Y)
	line.x += mb.Width
	line.height = math.Max(line.height, mb.Height)
	line.used = true
}

// layoutInlineLevel sizes an inline-level box with its margin box at the
// origin; the caller moves it into its line.
func (e *Engine) layoutInlineLevel(c *Box, avail float64, own containingBlock) {
	switch c.Kind {
	case TextBox:
		fs := c.Style.FontSize()
		w := measureText(c.Node.Data, fs)
		h := fs * style.DefaultLineHeight
		if avail > 0 && w > avail {
			h *= math.Ceil(w / avail)
			w = avail
		}
		c.Dimensions = Dimensions{Content: Rect{Width: w, Height: h}}
		return
	case ReplacedBox:
		e.resolveEdges(c, own.rect.Width)
		w, h := e.replacedSize(c, own)
		d := &c.Dimensions
		d.Content = Rect{X: d.Margin.Left + d.Border.Left + d.Padding.Left, Y: d.Margin.Top + d.Border.Top + d.Padding.Top, Width: w, Height: h}
		e.applyRelativeOffset(c, own)
		return
	}

	e.resolveEdges(c, own.rect.Width)
	d := &c.Dimensions
	w, ok := e.specifiedWidth(c, own.rect.Width)
	if !ok {
		w = math.Min(e.preferredContentWidth(c), math.Max(0, avail-d.innerHorizontal()-d.Margin.Horizontal()))
	}
	w = e.clampWidth(c, w, own.rect.Width)
	e.layoutAt(c, 0, 0, w, own)
}

// -- Intrinsic Widths --

// preferredContentWidth approximates the max-content width of b's content box.
func (e *Engine) preferredContentWidth(b *Box) float64 {
	switch b.Kind {
	case TextBox:
		return measureText(b.Node.Data, b.Style.FontSize())
	case ReplacedBox:
		w, _ := e.replacedSize(b, containingBlock{rect: e.viewport()})
		return w
	}
	row := b.Kind == FlexContainer && !strings.HasPrefix(b.Style.Get("flex-direction", "row"), "column")
	var best, line float64
	for _, c := range b.Children {
		if c.IsOutOfFlow() {
			continue
		}
		cw := e.preferredOuterWidth(c)
		if row || c.isInlineLevel() {
			line += cw
			continue
		}
		best = math.Max(best, line)
		line = 0
		best = math.Max(best, cw)
	}
	return math.Max(best, line)
}

func (e *Engine) preferredOuterWidth(b *Box) float64 {
	if b.Kind == TextBox {
		return measureText(b.Node.Data, b.Style.FontSize())
	}
	saved := b.Dimensions
	e.resolveEdges(b, 0)
	edges := b.Dimensions.innerHorizontal() + b.Dimensions.Margin.Horizontal()
	var w float64
	if sw, ok := e.specifiedWidth(b, 0); ok && !style.IsPercentage(b.Style.Get("width", "")) {
		w = sw
	} else {
		w = e.preferredContentWidth(b)
	}
	b.Dimensions = saved
	return w + edges
}

func measureText(s string, fontSize float64) float64 {
	return float64(utf8.RuneCountInString(strings.Join(strings.Fields(s), " "))) * fontSize * 0.5
}

// shift moves a laid out subtree.
func shift(b *Box, dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}
	b.Dimensions.Content.X += dx
	b.Dimensions.Content.Y += dy
	for _, c := range b.Children {
		shift(c, dx, dy)
	}
}

// -- Transforms --

func (e *Engine) applyTransforms(b *Box, parent TransformMatrix) {
	local := IdentityMatrix()
	if b.Kind != TextBox && b.Style.HasTransform() {
		bb := b.Dimensions.BorderBox()
		m := ParseTransform(b.Style.Get("transform", "none"), bb.Width, bb.Height, b.Style.LengthContext(bb.Width))
		ox, oy := transformOrigin(b.Style, bb)
		local = TranslateMatrix(ox, oy).Multiply(m).Multiply(TranslateMatrix(-ox, -oy))
	}
	b.Transform = parent.Multiply(local)
	for _, c := range b.Children {
		e.applyTransforms(c, b.Transform)
	}
}
