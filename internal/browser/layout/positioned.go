// internal/browser/layout/positioned.go
package layout

import (
	"math"

	"github.com/xkilldash9x/depthlens/internal/browser/style"
)

// -- Out-of-flow Layout --

func (e *Engine) enqueue(b *Box) {
	if e.queued[b] {
		return
	}
	e.queued[b] = true
	e.queue = append(e.queue, b)
}

// containingBlockFor returns the padding box of the nearest positioned or
// transformed ancestor, or the initial containing block.
func (e *Engine) containingBlockFor(b *Box) containingBlock {
	vp := containingBlock{rect: e.viewport(), definiteHeight: true}
	if b.position == style.PositionFixed {
		return vp
	}
	for a := b.Parent; a != nil; a = a.Parent {
		if a.Kind == TextBox {
			continue
		}
		if a.position.IsPositioned() || a.Style.HasTransform() {
			return containingBlock{rect: a.Dimensions.PaddingBox(), definiteHeight: true}
		}
	}
	return vp
}

// staticOrigin is where the box's margin box would start in normal flow.
func (b *Box) staticOrigin() (float64, float64) {
	if b.Parent == nil {
		return b.staticX, b.staticY
	}
	c := b.Parent.Dimensions.Content
	return c.X + b.staticX, c.Y + b.staticY
}

// layoutOutOfFlow resolves an absolute or fixed box against its containing
// block. Opposing insets stretch an auto size; a single inset anchors the box;
// no inset keeps the static position.
func (e *Engine) layoutOutOfFlow(b *Box) {
	cb := e.containingBlockFor(b)
	autoL, autoR := e.resolveEdges(b, cb.rect.Width)
	d := &b.Dimensions
	st := b.Style

	left, hasL := st.Length("left", cb.rect.Width)
	right, hasR := st.Length("right", cb.rect.Width)
	top, hasT := st.Length("top", cb.rect.Height)
	bottom, hasB := st.Length("bottom", cb.rect.Height)
	sx, sy := b.staticOrigin()
	edgesH := d.innerHorizontal() + d.Margin.Horizontal()
	edgesV := d.innerVertical() + d.Margin.Vertical()

	if b.Kind == ReplacedBox {
		w, h := e.replacedSize(b, cb)
		x, y := sx, sy
		switch {
		case hasL:
			x = cb.rect.X + left
		case hasR:
			x = cb.rect.Right() - right - w - edgesH
		}
		switch {
		case hasT:
			y = cb.rect.Y + top
		case hasB:
			y = cb.rect.Bottom() - bottom - h - edgesV
		}
		d.Content = Rect{X: x + d.Margin.Left + d.Border.Left + d.Padding.Left, Y: y + d.Margin.Top + d.Border.Top + d.Padding.Top, Width: w, Height: h}
		return
	}

	width, wOK := e.specifiedWidth(b, cb.rect.Width)
	switch {
	case wOK:
	case hasL && hasR:
		width = cb.rect.Width - left - right - edgesH
	default:
		avail := cb.rect.Width - edgesH
		if hasL {
			avail -= left
		} else if hasR {
			avail -= right
		}
		width = math.Min(e.preferredContentWidth(b), math.Max(0, avail))
	}
	width = math.Max(0, e.clampWidth(b, width, cb.rect.Width))
	if wOK && hasL && hasR && autoL && autoR {
		if free := cb.rect.Width - left - right - width - edgesH; free > 0 {
			d.Margin.Left += free / 2
			d.Margin.Right += free / 2
		}
	}

	x := sx
	switch {
	case hasL:
		x = cb.rect.X + left
	case hasR:
		x = cb.rect.Right() - right - width - d.innerHorizontal() - d.Margin.Horizontal()
	}

	height, hOK := e.specifiedHeight(b, cb)
	stretched := false
	if !hOK && hasT && hasB {
		height = math.Max(0, cb.rect.Height-top-bottom-edgesV)
		stretched = true
	}

	y := sy
	switch {
	case hasT:
		y = cb.rect.Y + top
	case hasB && hOK:
		y = cb.rect.Bottom() - bottom - height - edgesV
	}

	e.layoutSized(b, x, y, width, height, stretched, cb)

	if hasB && !hasT && !hOK {
		shift(b, 0, cb.rect.Bottom()-bottom-d.MarginBox().Bottom())
	}
}
