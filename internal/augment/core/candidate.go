// internal/augment/core/candidate.go
package core

import (
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/browser/dom"
)

// Candidate captures n as it is right now. The snapshot is what the
// classifier judges, so it must not be reused across DOM changes.
func (c *Context) Candidate(n *html.Node) Candidate {
	doc := c.Doc
	st := doc.ComputedStyle(n)
	img := doc.Image(n)
	vw, vh := doc.Viewport()

	cand := Candidate{
		Node:     n,
		ID:       doc.ID(n),
		Rect:     doc.BoundingRect(n),
		Natural:  Size{Width: float64(img.NaturalWidth), Height: float64(img.NaturalHeight)},
		Loaded:   img.Complete && !img.Broken,
		Source:   doc.CurrentSource(n),
		Alt:      dom.AttrOr(n, "alt", ""),
		Classes:  dom.Classes(n),
		Viewport: Size{Width: vw, Height: vh},
		Style: StyleSnapshot{
			Display:       st.Get("display", "inline"),
			Visibility:    st.Visibility(),
			Opacity:       c.effectiveOpacity(n),
			Position:      st.Position().String(),
			PointerEvents: st.PointerEvents(),
		},
		Tracked:  c.Table.Has(doc.ID(n)),
		Artifact: dom.HasAttr(n, AttrArtifact) || dom.HasAttr(n, AttrGenerated),
	}
	if u := doc.URL(); u != nil {
		cand.Host = u.Hostname()
	}
	if p := dom.ParentElement(n); p != nil && p.Data == "picture" {
		cand.InPicture = true
	}
	// An undisplayed ancestor hides the image even though its own display is
	// not none.
	for p := dom.ParentElement(n); p != nil; p = dom.ParentElement(p) {
		if doc.ComputedStyle(p).Get("display", "") == "none" {
			cand.Style.Display = "none"
			break
		}
	}
	return cand
}

func (c *Context) effectiveOpacity(n *html.Node) float64 {
	o := 1.0
	for x := n; x != nil; x = dom.ParentElement(x) {
		o *= c.Doc.ComputedStyle(x).Opacity()
		if o <= 0 {
			return 0
		}
	}
	return o
}
