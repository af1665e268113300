// internal/augment/lifecycle/treatment.go
package lifecycle

import (
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/browser/dom"
)

// processingStyle dims the source image while a conversion runs.
var processingStyle = []struct{ prop, value string }{
	{"opacity", "0.6"},
	{"filter", "grayscale(60%)"},
}

type inlineValue struct {
	value string
	ok    bool
}

// treatment is the processing look applied to an image. It remembers the
// inline values it overwrote so the image can be put back exactly.
type treatment struct {
	doc      *dom.Document
	img      *html.Node
	rawStyle string
	hadStyle bool
	applied  string
	prev     map[string]inlineValue
	restored bool
}

func applyTreatment(doc *dom.Document, img *html.Node) *treatment {
	t := &treatment{doc: doc, img: img, prev: make(map[string]inlineValue, len(processingStyle))}
	t.rawStyle, t.hadStyle = dom.Attr(img, "style")
	for _, p := range processingStyle {
		v, ok := doc.InlineStyle(img, p.prop)
		t.prev[p.prop] = inlineValue{value: v, ok: ok}
		doc.SetStyle(img, p.prop, p.value)
	}
	t.applied, _ = dom.Attr(img, "style")
	return t
}

// restore is idempotent. When nothing else touched the style attribute the
// original text comes back verbatim; otherwise only our properties revert.
func (t *treatment) restore() {
	if t.restored {
		return
	}
	t.restored = true
	if cur, _ := dom.Attr(t.img, "style"); cur == t.applied {
		if t.hadStyle {
			t.doc.SetAttr(t.img, "style", t.rawStyle)
		} else {
			t.doc.RemoveAttr(t.img, "style")
		}
		return
	}
	for _, p := range processingStyle {
		prev := t.prev[p.prop]
		if prev.ok {
			t.doc.SetStyle(t.img, p.prop, prev.value)
		} else {
			t.doc.RemoveStyle(t.img, p.prop)
		}
	}
}
