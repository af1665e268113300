// internal/browser/dom/nodes.go
package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Attr returns an attribute value and whether it is present.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// AttrOr returns an attribute value or fallback.
func AttrOr(n *html.Node, key, fallback string) string {
	if v, ok := Attr(n, key); ok {
		return v
	}
	return fallback
}

// HasAttr reports attribute presence.
func HasAttr(n *html.Node, key string) bool {
	_, ok := Attr(n, key)
	return ok
}

// Classes returns the class tokens of n.
func Classes(n *html.Node) []string {
	v, _ := Attr(n, "class")
	return strings.Fields(v)
}

// HasClass reports whether n carries class c.
func HasClass(n *html.Node, c string) bool {
	return containsString(Classes(n), c)
}

// IsElement reports an element node, optionally restricted to tag names.
func IsElement(n *html.Node, tags ...string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if len(tags) == 0 {
		return true
	}
	return containsString(tags, n.Data)
}

// Contains reports whether n is ancestor itself or one of its descendants.
func Contains(ancestor, n *html.Node) bool {
	for x := n; x != nil; x = x.Parent {
		if x == ancestor {
			return true
		}
	}
	return false
}

// ElementChildren lists the element children of n.
func ElementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// ParentElement returns the nearest element ancestor.
func ParentElement(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

// Walk visits n and its descendants in document order. Returning false from
// fn skips the node's subtree.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		Walk(c, fn)
		c = next
	}
}

// Elements returns n (if an element) and every element below it, in document
// order, filtered by tag when tags are given.
func Elements(n *html.Node, tags ...string) []*html.Node {
	var out []*html.Node
	Walk(n, func(x *html.Node) bool {
		if IsElement(x, tags...) {
			out = append(out, x)
		}
		return true
	})
	return out
}

// TextContent concatenates descendant text.
func TextContent(n *html.Node) string {
	var b strings.Builder
	Walk(n, func(x *html.Node) bool {
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
		return true
	})
	return b.String()
}

// Precedes reports whether a comes before b in document order. Nodes in
// different trees compare false.
func Precedes(a, b *html.Node) bool {
	if a == nil || b == nil || a == b {
		return false
	}
	pathA, pathB := ancestry(a), ancestry(b)
	if pathA[0] != pathB[0] {
		return false
	}
	i := 0
	for i < len(pathA) && i < len(pathB) && pathA[i] == pathB[i] {
		i++
	}
	if i == len(pathA) {
		return true // a is an ancestor of b
	}
	if i == len(pathB) {
		return false
	}
	for s := pathA[i]; s != nil; s = s.NextSibling {
		if s == pathB[i] {
			return true
		}
	}
	return false
}

// ancestry lists root..n.
func ancestry(n *html.Node) []*html.Node {
	var out []*html.Node
	for x := n; x != nil; x = x.Parent {
		out = append(out, x)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
