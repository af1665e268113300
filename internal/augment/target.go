// internal/augment/target.go
package augment

import (
	"strconv"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
)

// ResolveTargetImage finds the image a context action on node means. A
// control surface resolves to the image it serves. Otherwise node's own
// subtree is searched, then its siblings nearest first, then the siblings of
// each ancestor up to the policy's ancestor depth.
func (e *Engine) ResolveTargetImage(node *html.Node) *html.Node {
	if node == nil || node.Type != html.ElementNode {
		return nil
	}
	if img := e.surfaceImage(node); img != nil {
		return img
	}
	if img := firstImage(node); img != nil {
		return img
	}
	cur := node
	for depth := 0; cur != nil && depth <= e.ctx.Policy.AncestorDepth; depth++ {
		if cur.Data == "body" || cur.Data == "html" {
			break
		}
		if img := siblingImage(cur); img != nil {
			return img
		}
		cur = dom.ParentElement(cur)
	}
	return nil
}

// surfaceImage maps a node inside a zone or overlay layer to its image.
func (e *Engine) surfaceImage(n *html.Node) *html.Node {
	g := core.SelfOrAncestor(n, e.ctx.Policy.StructuralSearchDepth, func(x *html.Node) bool {
		return core.IsGenerated(x) && dom.HasAttr(x, core.AttrFor)
	})
	if g == nil {
		return nil
	}
	id, err := strconv.ParseUint(dom.AttrOr(g, core.AttrFor, ""), 10, 64)
	if err != nil {
		return nil
	}
	return e.doc.NodeByID(dom.NodeID(id))
}

// firstImage returns the first convertible image in root's subtree. Of the
// generated nodes only wrappers are searched.
func firstImage(root *html.Node) *html.Node {
	var found *html.Node
	dom.Walk(root, func(n *html.Node) bool {
		if found != nil || n.Type != html.ElementNode {
			return false
		}
		if core.IsGenerated(n) && !dom.HasClass(n, core.ClassWrap) {
			return false
		}
		if n.Data == "img" && !dom.HasAttr(n, core.AttrArtifact) {
			found = n
			return false
		}
		return true
	})
	return found
}

// siblingImage searches n's element siblings, alternating outward from n.
func siblingImage(n *html.Node) *html.Node {
	prev, next := prevElement(n), nextElement(n)
	for prev != nil || next != nil {
		if prev != nil {
			if img := firstImage(prev); img != nil {
				return img
			}
			prev = prevElement(prev)
		}
		if next != nil {
			if img := firstImage(next); img != nil {
				return img
			}
			next = nextElement(next)
		}
	}
	return nil
}

func prevElement(n *html.Node) *html.Node {
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

func nextElement(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}
