// internal/browser/style/computed.go
package style

import (
	"strconv"
	"strings"

	"github.com/xkilldash9x/depthlens/internal/browser/parser"
	"golang.org/x/net/html"
)

// Computed is the resolved style of one element. Values are kept as the
// cascaded text; typed accessors interpret them on demand.
type Computed struct {
	node           *html.Node
	props          map[parser.Property]string
	fontSize       float64
	viewportWidth  float64
	viewportHeight float64
}

// Get returns the computed text for prop, or fallback when unset.
func (c *Computed) Get(prop, fallback string) string {
	if c == nil {
		return fallback
	}
	if v, ok := c.props[parser.Property(prop)]; ok {
		return v
	}
	return fallback
}

// Has reports whether prop was set by any origin or inherited.
func (c *Computed) Has(prop string) bool {
	if c == nil {
		return false
	}
	_, ok := c.props[parser.Property(prop)]
	return ok
}

// FontSize is the resolved font size in px.
func (c *Computed) FontSize() float64 {
	if c == nil || c.fontSize <= 0 {
		return BaseFontSize
	}
	return c.fontSize
}

// Length resolves prop against reference (the percentage basis). It reports
// false for auto, none and unparseable values.
func (c *Computed) Length(prop string, reference float64) (float64, bool) {
	return ParseLength(c.Get(prop, "auto"), c.lengthContext(reference))
}

func (c *Computed) lengthContext(reference float64) LengthContext {
	ctx := LengthContext{FontSize: c.FontSize(), RootFontSize: BaseFontSize, Reference: reference}
	if c != nil {
		ctx.ViewportWidth, ctx.ViewportHeight = c.viewportWidth, c.viewportHeight
	}
	return ctx
}

// LengthContext returns the unit context of this element for a given basis.
func (c *Computed) LengthContext(reference float64) LengthContext {
	return c.lengthContext(reference)
}

// -- Display and Positioning --

type Display int

const (
	DisplayInline Display = iota
	DisplayBlock
	DisplayInlineBlock
	DisplayFlex
	DisplayInlineFlex
	DisplayGrid
	DisplayInlineGrid
	DisplayContents
	DisplayNone
)

// IsInlineLevel reports whether boxes of this display sit in line boxes.
func (d Display) IsInlineLevel() bool {
	return d == DisplayInline || d == DisplayInlineBlock || d == DisplayInlineFlex || d == DisplayInlineGrid
}

// IsFlex reports flex containers of either outer display.
func (d Display) IsFlex() bool { return d == DisplayFlex || d == DisplayInlineFlex }

// IsGrid reports grid containers of either outer display.
func (d Display) IsGrid() bool { return d == DisplayGrid || d == DisplayInlineGrid }

func (c *Computed) Display() Display {
	if c == nil {
		return DisplayInline
	}
	switch strings.ToLower(c.Get("display", "")) {
	case "block", "list-item", "table", "flow-root", "table-row", "table-cell", "table-caption":
		return DisplayBlock
	case "inline-block", "inline-table":
		return DisplayInlineBlock
	case "flex":
		return DisplayFlex
	case "inline-flex":
		return DisplayInlineFlex
	case "grid":
		return DisplayGrid
	case "inline-grid":
		return DisplayInlineGrid
	case "contents":
		return DisplayContents
	case "none":
		return DisplayNone
	case "inline":
		return DisplayInline
	}
	return defaultDisplay(c.node)
}

type Position int

const (
	PositionStatic Position = iota
	PositionRelative
	PositionAbsolute
	PositionFixed
	PositionSticky
)

// IsPositioned reports any value other than static.
func (p Position) IsPositioned() bool { return p != PositionStatic }

// IsOutOfFlow reports absolute and fixed boxes.
func (p Position) IsOutOfFlow() bool { return p == PositionAbsolute || p == PositionFixed }

func (p Position) String() string {
	switch p {
	case PositionRelative:
		return "relative"
	case PositionAbsolute:
		return "absolute"
	case PositionFixed:
		return "fixed"
	case PositionSticky:
		return "sticky"
	}
	return "static"
}

func (c *Computed) Position() Position {
	switch strings.ToLower(c.Get("position", "static")) {
	case "relative":
		return PositionRelative
	case "absolute":
		return PositionAbsolute
	case "fixed":
		return PositionFixed
	case "sticky":
		return PositionSticky
	}
	return PositionStatic
}

// BorderBox reports box-sizing: border-box.
func (c *Computed) BorderBox() bool {
	return strings.EqualFold(c.Get("box-sizing", "content-box"), "border-box")
}

// -- Visibility and Interaction --

// Opacity parses opacity as a number or percentage, defaulting to 1.
func (c *Computed) Opacity() float64 {
	v := strings.TrimSpace(c.Get("opacity", "1"))
	if strings.HasSuffix(v, "%") {
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64); err == nil {
			return f / 100
		}
		return 1
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return 1
}

// Visibility returns the computed visibility keyword.
func (c *Computed) Visibility() string {
	return strings.ToLower(c.Get("visibility", "visible"))
}

// IsVisible is false for display:none, hidden or collapsed visibility, and
// fully transparent elements.
func (c *Computed) IsVisible() bool {
	if c.Display() == DisplayNone {
		return false
	}
	if v := c.Visibility(); v == "hidden" || v == "collapse" {
		return false
	}
	return c.Opacity() > 0
}

// PointerEvents returns the pointer-events keyword, "auto" by default.
func (c *Computed) PointerEvents() string {
	return strings.ToLower(c.Get("pointer-events", "auto"))
}

// ZIndex returns the integer z-index; ok is false for auto.
func (c *Computed) ZIndex() (int, bool) {
	v := strings.TrimSpace(c.Get("z-index", "auto"))
	if v == "auto" {
		return 0, false
	}
	z, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return z, true
}

// HasTransform reports a transform other than none.
func (c *Computed) HasTransform() bool {
	v := strings.TrimSpace(c.Get("transform", "none"))
	return v != "" && v != "none"
}

// ObjectFit returns the object-fit keyword, "fill" by default.
func (c *Computed) ObjectFit() string {
	return strings.ToLower(c.Get("object-fit", "fill"))
}

func defaultDisplay(n *html.Node) Display {
	if n == nil || n.Type != html.ElementNode {
		return DisplayInline
	}
	switch n.Data {
	case "html", "body", "div", "p", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "form", "header", "footer", "section", "article",
		"nav", "main", "aside", "figure", "figcaption", "blockquote", "pre",
		"table", "tr", "td", "th", "dl", "dt", "dd", "fieldset", "address", "hr":
		return DisplayBlock
	case "head", "script", "style", "meta", "link", "title", "template",
		"noscript", "base", "source", "track", "param":
		return DisplayNone
	case "input", "button", "select", "textarea":
		return DisplayInlineBlock
	}
	return DisplayInline
}
