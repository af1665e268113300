// internal/browser/layout/geometry.go
package layout

import (
	"fmt"
	"math"
)

// Rect is an axis aligned rectangle in CSS px.
type Rect struct {
	X, Y, Width, Height float64
}

func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }
func (r Rect) Area() float64   { return math.Max(0, r.Width) * math.Max(0, r.Height) }

// IsEmpty reports a rectangle with no area.
func (r Rect) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Center returns the midpoint.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Contains is inclusive on the top/left edges and exclusive on the bottom/right.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.Right() && y >= r.Y && y < r.Bottom()
}

// Intersects reports a non-empty overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.Right() && o.X < r.Right() && r.Y < o.Bottom() && o.Y < r.Bottom()
}

// Inflate grows the rectangle by d on every side.
func (r Rect) Inflate(d float64) Rect {
	return Rect{X: r.X - d, Y: r.Y - d, Width: r.Width + 2*d, Height: r.Height + 2*d}
}

// Translate offsets the rectangle.
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// ExpandedBy returns a new rectangle expanded by the edge sizes.
func (r Rect) ExpandedBy(e Edges) Rect {
	return Rect{
		X:      r.X - e.Left,
		Y:      r.Y - e.Top,
		Width:  r.Width + e.Left + e.Right,
		Height: r.Height + e.Top + e.Bottom,
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.1f,%.1f %.1fx%.1f)", r.X, r.Y, r.Width, r.Height)
}

// Edges holds per-side sizes for margin, border and padding.
type Edges struct {
	Top, Right, Bottom, Left float64
}

func (e Edges) Horizontal() float64 { return e.Left + e.Right }
func (e Edges) Vertical() float64   { return e.Top + e.Bottom }

// Dimensions defines the geometry of a layout box before transforms.
type Dimensions struct {
	Content Rect
	Padding Edges
	Border  Edges
	Margin  Edges
}

// PaddingBox returns the rectangle enclosing the padding area.
func (d Dimensions) PaddingBox() Rect { return d.Content.ExpandedBy(d.Padding) }

// BorderBox returns the rectangle enclosing the border area.
func (d Dimensions) BorderBox() Rect { return d.PaddingBox().ExpandedBy(d.Border) }

// MarginBox returns the rectangle enclosing the margin area.
func (d Dimensions) MarginBox() Rect { return d.BorderBox().ExpandedBy(d.Margin) }

// innerHorizontal is padding plus border on the inline axis.
func (d Dimensions) innerHorizontal() float64 {
	return d.Padding.Horizontal() + d.Border.Horizontal()
}

func (d Dimensions) innerVertical() float64 {
	return d.Padding.Vertical() + d.Border.Vertical()
}
