// internal/browser/style/style.go
package style

import (
	"sort"
	"strconv"
	"strings"

	"github.com/xkilldash9x/depthlens/internal/browser/parser"
	"golang.org/x/net/html"
)

// -- Constants and Configuration --

const (
	BaseFontSize      = 16.0
	DefaultLineHeight = 1.2
)

// DefaultUserAgentCSS carries the handful of UA rules the geometry engine
// relies on. Default display values live in defaultDisplay.
const DefaultUserAgentCSS = `
body { margin: 8px; }
[hidden] { display: none; }
h1 { font-size: 2em; margin: 0.67em 0; }
h2 { font-size: 1.5em; margin: 0.83em 0; }
p, figure { margin: 1em 0; }
figure { margin-left: 40px; margin-right: 40px; }
ul, ol { padding-left: 40px; margin: 1em 0; }
button { padding: 1px 6px; border-width: 2px; }
`

// -- Style Engine --

// Engine runs the cascade for element nodes. It holds no per-node state; the
// caller owns caching.
type Engine struct {
	userAgentSheets []parser.StyleSheet
	authorSheets    []parser.StyleSheet
	viewportWidth   float64
	viewportHeight  float64
}

// NewEngine returns an engine seeded with the user agent sheet.
func NewEngine() *Engine {
	return &Engine{
		userAgentSheets: []parser.StyleSheet{parser.Parse(DefaultUserAgentCSS)},
	}
}

// AddAuthorSheet appends a page stylesheet. Later sheets win ties.
func (se *Engine) AddAuthorSheet(sheet parser.StyleSheet) {
	se.authorSheets = append(se.authorSheets, sheet)
}

// ResetAuthorSheets drops every author sheet, used when <style> contents change.
func (se *Engine) ResetAuthorSheets() {
	se.authorSheets = nil
}

// SetViewport sets the dimensions used for viewport-relative units.
func (se *Engine) SetViewport(width, height float64) {
	se.viewportWidth = width
	se.viewportHeight = height
}

// Viewport reports the configured viewport size.
func (se *Engine) Viewport() (float64, float64) {
	return se.viewportWidth, se.viewportHeight
}

// CollectStyleSheets parses every <style> element under root in document order.
func CollectStyleSheets(root *html.Node) []parser.StyleSheet {
	var sheets []parser.StyleSheet
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "style" {
			var b strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					b.WriteString(c.Data)
				}
			}
			sheets = append(sheets, parser.Parse(b.String()))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return sheets
}

// ComputeTree computes styles for every element under root, parents before
// children, and returns them keyed by node.
func (se *Engine) ComputeTree(root *html.Node) map[*html.Node]*Computed {
	out := make(map[*html.Node]*Computed)
	var walk func(n *html.Node, parent *Computed)
	walk = func(n *html.Node, parent *Computed) {
		cur := parent
		if n.Type == html.ElementNode {
			cur = se.Compute(n, parent)
			out[n] = cur
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, cur)
		}
	}
	walk(root, nil)
	return out
}

// -- The Cascade --

type origin int

const (
	originUserAgent origin = iota
	originAuthor
	originInline
)

type cascaded struct {
	prop        parser.Property
	value       string
	important   bool
	origin      origin
	specificity parser.Specificity
	order       int
}

func (c cascaded) priority() int {
	switch c.origin {
	case originUserAgent:
		if c.important {
			return 5
		}
		return 1
	case originAuthor:
		if c.important {
			return 4
		}
		return 2
	default:
		if c.important {
			return 4
		}
		return 3
	}
}

// Compute runs the cascade for one element and resolves inheritance against
// parent, which may be nil for the root.
func (se *Engine) Compute(n *html.Node, parent *Computed) *Computed {
	var decls []cascaded
	order := 0
	add := func(d parser.Declaration, o origin, sp parser.Specificity) {
		for _, lh := range expandShorthand(d.Property, string(d.Value)) {
			decls = append(decls, cascaded{
				prop: lh.prop, value: lh.value, important: d.Important,
				origin: o, specificity: sp, order: order,
			})
			order++
		}
	}
	apply := func(sheets []parser.StyleSheet, o origin) {
		for _, sheet := range sheets {
			for _, rule := range sheet.Rules {
				sp, ok := MatchSpecificity(n, rule.Selectors)
				if !ok {
					continue
				}
				for _, d := range rule.Declarations {
					add(d, o, sp)
				}
			}
		}
	}
	apply(se.userAgentSheets, originUserAgent)
	apply(se.authorSheets, originAuthor)
	if inline, ok := attr(n, "style"); ok {
		for _, d := range parser.ParseDeclarations(inline) {
			add(d, originInline, parser.Specificity{1, 0, 0})
		}
	}

	sort.SliceStable(decls, func(i, j int) bool {
		a, b := decls[i], decls[j]
		if pa, pb := a.priority(), b.priority(); pa != pb {
			return pa < pb
		}
		if a.specificity != b.specificity {
			return a.specificity.Less(b.specificity)
		}
		return a.order < b.order
	})

	c := &Computed{node: n, props: make(map[parser.Property]string, len(decls))}
	for _, d := range decls {
		c.props[d.prop] = d.value
	}
	se.finish(c, parent)
	return c
}

var inheritedProperties = []parser.Property{
	"visibility", "pointer-events", "color", "cursor", "direction",
	"font-family", "font-size", "font-weight", "line-height", "text-align",
}

func (se *Engine) finish(c, parent *Computed) {
	for prop, val := range c.props {
		switch strings.ToLower(val) {
		case "inherit":
			if parent != nil {
				if pv, ok := parent.props[prop]; ok {
					c.props[prop] = pv
					continue
				}
			}
			delete(c.props, prop)
		case "initial", "unset", "revert":
			delete(c.props, prop)
		}
	}
	if parent != nil {
		for _, prop := range inheritedProperties {
			if _, ok := c.props[prop]; !ok {
				if pv, ok := parent.props[prop]; ok {
					c.props[prop] = pv
				}
			}
		}
	}

	parentFont := BaseFontSize
	if parent != nil {
		parentFont = parent.fontSize
	}
	c.fontSize = parentFont
	if fs, ok := c.props["font-size"]; ok {
		if v, ok := ParseLength(fs, LengthContext{
			FontSize: parentFont, RootFontSize: BaseFontSize, Reference: parentFont,
			ViewportWidth: se.viewportWidth, ViewportHeight: se.viewportHeight,
		}); ok && v > 0 {
			c.fontSize = v
		}
	}
	c.props["font-size"] = strconv.FormatFloat(c.fontSize, 'f', -1, 64) + "px"
	c.viewportWidth, c.viewportHeight = se.viewportWidth, se.viewportHeight
}

// -- Shorthands --

type longhand struct {
	prop  parser.Property
	value string
}

func expandShorthand(prop parser.Property, value string) []longhand {
	switch prop {
	case "margin", "padding":
		return expandBox(value, prop+"-top", prop+"-right", prop+"-bottom", prop+"-left")
	case "inset":
		return expandBox(value, "top", "right", "bottom", "left")
	case "border-width":
		return expandBox(value, "border-top-width", "border-right-width", "border-bottom-width", "border-left-width")
	case "border":
		width := "medium"
		style := "none"
		for _, part := range strings.Fields(value) {
			switch {
			case isBorderStyle(part):
				style = part
			case part == "thin" || part == "medium" || part == "thick" || startsNumeric(part):
				width = part
			}
		}
		if style == "none" || style == "hidden" {
			width = "0"
		}
		return []longhand{
			{"border-top-width", width}, {"border-right-width", width},
			{"border-bottom-width", width}, {"border-left-width", width},
			{"border-style", style},
		}
	case "flex":
		return expandFlex(value)
	}
	return []longhand{{prop, value}}
}

func expandBox(value string, top, right, bottom, left parser.Property) []longhand {
	parts := strings.Fields(value)
	var t, r, b, l string
	switch len(parts) {
	case 1:
		t, r, b, l = parts[0], parts[0], parts[0], parts[0]
	case 2:
		t, r, b, l = parts[0], parts[1], parts[0], parts[1]
	case 3:
		t, r, b, l = parts[0], parts[1], parts[2], parts[1]
	case 4:
		t, r, b, l = parts[0], parts[1], parts[2], parts[3]
	default:
		return nil
	}
	return []longhand{{top, t}, {right, r}, {bottom, b}, {left, l}}
}

func expandFlex(value string) []longhand {
	grow, shrink, basis := "0", "1", "auto"
	parts := strings.Fields(value)
	switch {
	case len(parts) == 1 && parts[0] == "none":
		grow, shrink = "0", "0"
	case len(parts) == 1 && parts[0] == "auto":
		grow, shrink = "1", "1"
	case len(parts) == 1:
		if _, err := strconv.ParseFloat(parts[0], 64); err == nil {
			grow, shrink, basis = parts[0], "1", "0%"
		} else {
			grow, shrink, basis = "1", "1", parts[0]
		}
	case len(parts) == 2:
		grow = parts[0]
		if _, err := strconv.ParseFloat(parts[1], 64); err == nil {
			shrink = parts[1]
		} else {
			basis = parts[1]
		}
	case len(parts) >= 3:
		grow, shrink, basis = parts[0], parts[1], parts[2]
	}
	return []longhand{{"flex-grow", grow}, {"flex-shrink", shrink}, {"flex-basis", basis}}
}

func isBorderStyle(s string) bool {
	switch s {
	case "none", "hidden", "solid", "dashed", "dotted", "double", "groove", "ridge", "inset", "outset":
		return true
	}
	return false
}

func startsNumeric(s string) bool {
	return s != "" && (s[0] >= '0' && s[0] <= '9' || s[0] == '.')
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
