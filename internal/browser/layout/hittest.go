// internal/browser/layout/hittest.go
package layout

import (
	"math"
	"sort"

	"golang.org/x/net/html"
)

// Tree is the result of a layout pass: box lookup by node plus paint order
// for hit testing.
type Tree struct {
	Root  *Box
	boxes map[*html.Node]*Box
	paint []*Box
}

func newTree(root *Box) *Tree {
	t := &Tree{Root: root, boxes: make(map[*html.Node]*Box)}
	if root == nil {
		return t
	}
	type keyed struct {
		box        *Box
		z          int
		positioned bool
	}
	var all []keyed
	var walk func(b *Box, z int, positioned bool)
	walk = func(b *Box, z int, positioned bool) {
		if _, seen := t.boxes[b.Node]; !seen {
			t.boxes[b.Node] = b
		}
		if b.Kind != TextBox {
			// The outermost stacking context decides the layer of its subtree.
			if b.position.IsPositioned() {
				positioned = true
				if zi, ok := b.Style.ZIndex(); ok && !hasStackingAncestor(b) {
					z = zi
				}
			} else if b.Style.HasTransform() {
				positioned = true
			}
		}
		all = append(all, keyed{box: b, z: z, positioned: positioned})
		for _, c := range b.Children {
			walk(c, z, positioned)
		}
	}
	walk(root, 0, false)

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.z != b.z {
			return a.z < b.z
		}
		if a.positioned != b.positioned {
			return !a.positioned
		}
		return a.box.order < b.box.order
	})
	t.paint = make([]*Box, len(all))
	for i, k := range all {
		t.paint[i] = k.box
	}
	return t
}

func hasStackingAncestor(b *Box) bool {
	for a := b.Parent; a != nil; a = a.Parent {
		if a.Kind == TextBox || !a.position.IsPositioned() {
			continue
		}
		if _, ok := a.Style.ZIndex(); ok {
			return true
		}
	}
	return false
}

// Box returns the principal box generated by n, or nil.
func (t *Tree) Box(n *html.Node) *Box {
	if t == nil {
		return nil
	}
	return t.boxes[n]
}

// BorderRect returns the painted border box of n in document coordinates,
// i.e. the bounding box of the transformed border box.
func (t *Tree) BorderRect(n *html.Node) (Rect, bool) {
	b := t.Box(n)
	if b == nil {
		return Rect{}, false
	}
	return b.Transform.Bounds(b.Dimensions.BorderBox()), true
}

// Height returns the document height: the lowest painted edge of any box.
func (t *Tree) Height() float64 {
	h := 0.0
	for _, b := range t.paint {
		if b.InFixed() {
			continue
		}
		h = math.Max(h, b.Transform.Bounds(b.Dimensions.MarginBox()).Bottom())
	}
	return h
}

// Width returns the document width.
func (t *Tree) Width() float64 {
	w := 0.0
	for _, b := range t.paint {
		if b.InFixed() {
			continue
		}
		w = math.Max(w, b.Transform.Bounds(b.Dimensions.BorderBox()).Right())
	}
	return w
}

// HitTest returns the topmost element under a viewport point. Fixed boxes are
// tested in viewport coordinates, everything else at the scrolled position.
func (t *Tree) HitTest(viewX, viewY, scrollX, scrollY float64) *html.Node {
	if t == nil {
		return nil
	}
	for i := len(t.paint) - 1; i >= 0; i-- {
		b := t.paint[i]
		x, y := viewX+scrollX, viewY+scrollY
		if b.InFixed() {
			x, y = viewX, viewY
		}
		if !hittable(b) || !containsPoint(b, x, y) || clippedOut(b, x, y) {
			continue
		}
		if b.Kind == TextBox {
			return b.Parent.Node
		}
		return b.Node
	}
	return nil
}

func hittable(b *Box) bool {
	if b.Dimensions.BorderBox().IsEmpty() {
		return false
	}
	if !b.Style.IsVisible() {
		return false
	}
	return b.Style.PointerEvents() != "none"
}

func containsPoint(b *Box, x, y float64) bool {
	inv, err := b.Transform.Inverse()
	if err != nil {
		return false
	}
	lx, ly := inv.Apply(x, y)
	return b.Dimensions.BorderBox().Contains(lx, ly)
}

// clippedOut reports a point outside an overflow-clipping ancestor.
func clippedOut(b *Box, x, y float64) bool {
	for a := b.Parent; a != nil; a = a.Parent {
		if a.Kind == TextBox {
			continue
		}
		switch a.Style.Get("overflow", "visible") {
		case "hidden", "clip", "scroll", "auto":
			if !a.Dimensions.BorderBox().IsEmpty() && !containsPoint(a, x, y) {
				return true
			}
		}
	}
	return false
}
