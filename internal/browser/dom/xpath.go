// internal/browser/dom/xpath.go
package dom

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// GenerateUniqueXPath builds an XPath that selects exactly node, anchored on
// the nearest ancestor with an id. Text nodes resolve to their element.
// Used to name elements in logs and reports.
func GenerateUniqueXPath(node *html.Node) string {
	for node != nil && node.Type != html.ElementNode && node.Type != html.DocumentNode {
		node = node.Parent
	}
	if node == nil {
		return ""
	}

	var steps []string
	anchored := false
	for n := node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if id, ok := Attr(n, "id"); ok && id != "" && !strings.Contains(id, "'") {
			steps = append(steps, "//*[@id='"+id+"']")
			anchored = true
			break
		}
		tag := strings.ToLower(n.Data)
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
				index++
			}
		}
		steps = append(steps, tag+"["+strconv.Itoa(index)+"]")
	}
	if len(steps) == 0 {
		return "/"
	}

	var b strings.Builder
	if !anchored {
		b.WriteString("/")
	}
	for i := len(steps) - 1; i >= 0; i-- {
		b.WriteString(steps[i])
		if i > 0 {
			b.WriteString("/")
		}
	}
	return b.String()
}
