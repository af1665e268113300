// internal/browser/style/selectors.go
package style

import (
	"strings"

	"github.com/xkilldash9x/depthlens/internal/browser/parser"
	"golang.org/x/net/html"
)

// Matches reports whether n matches any selector in group.
func Matches(n *html.Node, group parser.SelectorGroup) bool {
	_, ok := MatchSpecificity(n, group)
	return ok
}

// MatchSpecificity returns the highest specificity among the selectors in
// group that match n.
func MatchSpecificity(n *html.Node, group parser.SelectorGroup) (parser.Specificity, bool) {
	var best parser.Specificity
	found := false
	if n == nil || n.Type != html.ElementNode {
		return best, false
	}
	for _, cs := range group {
		if len(cs.Parts) == 0 {
			continue
		}
		if matchFrom(n, cs, len(cs.Parts)-1) {
			sp := cs.Specificity()
			if !found || best.Less(sp) {
				best = sp
			}
			found = true
		}
	}
	return best, found
}

// QueryAll returns every element under root (excluding root) matching group,
// in document order.
func QueryAll(root *html.Node, group parser.SelectorGroup) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && Matches(c, group) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// Closest walks from n (inclusive) towards the root and returns the first
// element matching group.
func Closest(n *html.Node, group parser.SelectorGroup) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && Matches(cur, group) {
			return cur
		}
	}
	return nil
}

func matchFrom(n *html.Node, cs parser.ComplexSelector, idx int) bool {
	if n == nil || n.Type != html.ElementNode || idx < 0 {
		return false
	}
	p := cs.Parts[idx]
	if !matchCompound(n, p.Compound) {
		return false
	}
	if idx == 0 {
		return true
	}
	switch p.Combinator {
	case parser.CombinatorDescendant:
		for anc := n.Parent; anc != nil; anc = anc.Parent {
			if matchFrom(anc, cs, idx-1) {
				return true
			}
		}
		return false
	case parser.CombinatorChild:
		return matchFrom(n.Parent, cs, idx-1)
	case parser.CombinatorAdjacentSibling:
		return matchFrom(prevElement(n), cs, idx-1)
	case parser.CombinatorGeneralSibling:
		for sib := prevElement(n); sib != nil; sib = prevElement(sib) {
			if matchFrom(sib, cs, idx-1) {
				return true
			}
		}
		return false
	}
	return false
}

func matchCompound(n *html.Node, s parser.SimpleSelector) bool {
	if s.TagName != "" && s.TagName != "*" && !strings.EqualFold(n.Data, s.TagName) {
		return false
	}
	if s.ID != "" {
		if id, _ := attr(n, "id"); id != s.ID {
			return false
		}
	}
	if len(s.Classes) > 0 {
		cls, _ := attr(n, "class")
		have := strings.Fields(cls)
		for _, want := range s.Classes {
			if !containsString(have, want) {
				return false
			}
		}
	}
	for _, a := range s.Attributes {
		if !matchAttribute(n, a) {
			return false
		}
	}
	for _, ps := range s.Pseudo {
		if !matchPseudo(n, ps) {
			return false
		}
	}
	return true
}

func matchAttribute(n *html.Node, sel parser.AttributeSelector) bool {
	var val string
	found := false
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, sel.Name) {
			val, found = a.Val, true
			break
		}
	}
	if !found {
		return false
	}
	switch sel.Operator {
	case "":
		return true
	case "=":
		return val == sel.Value
	case "~=":
		return containsString(strings.Fields(val), sel.Value)
	case "|=":
		return val == sel.Value || strings.HasPrefix(val, sel.Value+"-")
	case "^=":
		return sel.Value != "" && strings.HasPrefix(val, sel.Value)
	case "$=":
		return sel.Value != "" && strings.HasSuffix(val, sel.Value)
	case "*=":
		return sel.Value != "" && strings.Contains(val, sel.Value)
	}
	return false
}

// matchPseudo supports the structural pseudo-classes that are meaningful on a
// static tree. Dynamic states (:hover, :focus, ...) never match.
func matchPseudo(n *html.Node, ps string) bool {
	switch ps {
	case "first-child":
		return prevElement(n) == nil
	case "last-child":
		return nextElement(n) == nil
	case "only-child":
		return prevElement(n) == nil && nextElement(n) == nil
	case "root":
		return n.Parent != nil && n.Parent.Type == html.DocumentNode
	case "empty":
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode || (c.Type == html.TextNode && c.Data != "") {
				return false
			}
		}
		return true
	}
	if strings.HasPrefix(ps, "not(") && strings.HasSuffix(ps, ")") {
		inner, err := parser.ParseSelectorGroup(ps[len("not(") : len(ps)-1])
		if err != nil {
			return false
		}
		return !Matches(n, inner)
	}
	return false
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

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
