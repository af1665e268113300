// internal/browser/dom/geometry.go
package dom

import (
	"fmt"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/browser/layout"
	"github.com/xkilldash9x/depthlens/internal/browser/parser"
	"github.com/xkilldash9x/depthlens/internal/browser/style"
)

// geometryCache holds styles and boxes for one document generation.
type geometryCache struct {
	generation uint64
	valid      bool
	styles     map[*html.Node]*style.Computed
	tree       *layout.Tree
}

func (d *Document) ensureGeometry() *geometryCache {
	if d.geometry.valid && d.geometry.generation == d.generation {
		return &d.geometry
	}
	d.styles.ResetAuthorSheets()
	for _, sheet := range style.CollectStyleSheets(d.root) {
		d.styles.AddAuthorSheet(sheet)
	}
	d.styles.SetViewport(d.viewportWidth, d.viewportHeight)
	styles := d.styles.ComputeTree(d.root)
	engine := layout.NewEngine(d.viewportWidth, d.viewportHeight,
		func(n *html.Node) *style.Computed { return styles[n] },
		d.intrinsicSize,
	)
	d.geometry = geometryCache{
		generation: d.generation,
		valid:      true,
		styles:     styles,
		tree:       engine.Layout(d.root),
	}
	return &d.geometry
}

// ComputedStyle returns n's computed style. Detached or undisplayed-parent
// nodes still get a style computed from their own ancestry.
func (d *Document) ComputedStyle(n *html.Node) *style.Computed {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	g := d.ensureGeometry()
	if c, ok := g.styles[n]; ok {
		return c
	}
	// Detached subtree: cascade along its own ancestor chain.
	var chain []*html.Node
	for x := n; x != nil; x = x.Parent {
		if x.Type == html.ElementNode {
			chain = append(chain, x)
		}
	}
	var parent *style.Computed
	for i := len(chain) - 1; i >= 0; i-- {
		parent = d.styles.Compute(chain[i], parent)
	}
	return parent
}

// BoundingRect returns n's border box in viewport coordinates, like
// getBoundingClientRect. Nodes without a box report an empty rect.
func (d *Document) BoundingRect(n *html.Node) layout.Rect {
	g := d.ensureGeometry()
	r, ok := g.tree.BorderRect(n)
	if !ok {
		return layout.Rect{}
	}
	if b := g.tree.Box(n); b != nil && b.InFixed() {
		return r
	}
	return r.Translate(-d.scrollX, -d.scrollY)
}

// LayoutBox exposes the box of n for callers that need padding or content
// geometry.
func (d *Document) LayoutBox(n *html.Node) *layout.Box {
	return d.ensureGeometry().tree.Box(n)
}

// ElementFromPoint hit tests a viewport point.
func (d *Document) ElementFromPoint(x, y float64) *html.Node {
	if x < 0 || y < 0 || x >= d.viewportWidth || y >= d.viewportHeight {
		return nil
	}
	return d.ensureGeometry().tree.HitTest(x, y, d.scrollX, d.scrollY)
}

// ScrollHeight is the laid out document height.
func (d *Document) ScrollHeight() float64 {
	return d.ensureGeometry().tree.Height()
}

// -- Queries --

// QuerySelectorAll returns elements below root matching a CSS selector.
func (d *Document) QuerySelectorAll(root *html.Node, selector string) ([]*html.Node, error) {
	group, err := parser.ParseSelectorGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	if root == nil {
		root = d.root
	}
	return style.QueryAll(root, group), nil
}

// QuerySelector returns the first match, or nil.
func (d *Document) QuerySelector(root *html.Node, selector string) (*html.Node, error) {
	all, err := d.QuerySelectorAll(root, selector)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

// XPath evaluates an XPath expression against the document.
func (d *Document) XPath(expr string) ([]*html.Node, error) {
	nodes, err := htmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	return nodes, nil
}
