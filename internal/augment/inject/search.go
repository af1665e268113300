// internal/augment/inject/search.go
package inject

import (
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
)

// FindSurface looks for a connected zone serving img: among the children of
// its direct container, then among the children of up to
// StructuralSearchDepth further ancestors, where overlay layers live.
func (s *Strategist) FindSurface(img *html.Node) *html.Node {
	parent := dom.ParentElement(img)
	if parent == nil {
		return nil
	}
	want := forValue(s.ctx.Doc.ID(img))
	scopes := append([]*html.Node{parent}, core.Ancestors(parent, s.policy.StructuralSearchDepth)...)
	for _, scope := range scopes {
		for _, c := range dom.ElementChildren(scope) {
			if z := zoneIn(c, want); z != nil && s.ctx.Doc.IsConnected(z) {
				return z
			}
		}
	}
	return nil
}

func zoneIn(n *html.Node, want string) *html.Node {
	if dom.AttrOr(n, core.AttrFor, "") != want {
		return nil
	}
	if dom.HasClass(n, core.ClassZone) {
		if hasSurface(n) {
			return n
		}
		return nil
	}
	if dom.HasClass(n, core.ClassOverlay) {
		for _, c := range dom.ElementChildren(n) {
			if dom.HasClass(c, core.ClassZone) && hasSurface(c) {
				return c
			}
		}
	}
	return nil
}

func hasSurface(zone *html.Node) bool {
	for _, c := range dom.ElementChildren(zone) {
		if dom.HasClass(c, core.ClassSurface) {
			return true
		}
	}
	return false
}

// Zones returns every generated zone in the document, in document order.
func (s *Strategist) Zones() []*html.Node {
	var out []*html.Node
	dom.Walk(s.ctx.Doc.Root(), func(n *html.Node) bool {
		if n.Type == html.ElementNode && dom.HasClass(n, core.ClassZone) && core.IsGenerated(n) {
			out = append(out, n)
			return false
		}
		return true
	})
	return out
}

// RemoveOrphan deletes a zone no record owns, along with an overlay layer
// or wrapper that served only it. A wrapper's host content is moved back out
// first.
func (s *Strategist) RemoveOrphan(zone *html.Node) {
	doc := s.ctx.Doc
	parent := dom.ParentElement(zone)
	doc.Remove(zone)
	if parent == nil || !core.IsGenerated(parent) || s.owned(parent) {
		return
	}
	switch {
	case dom.HasClass(parent, core.ClassOverlay):
		doc.Remove(parent)
	case dom.HasClass(parent, core.ClassWrap) && parent.Parent != nil:
		for c := parent.FirstChild; c != nil; c = parent.FirstChild {
			doc.InsertBefore(parent.Parent, c, parent)
		}
		doc.Remove(parent)
	}
}

func (s *Strategist) owned(n *html.Node) bool {
	for _, r := range s.ctx.Table.Records() {
		if r.Overlay == n || (r.Strategy == core.StrategyWrap && r.Container == n) {
			return true
		}
	}
	return false
}
