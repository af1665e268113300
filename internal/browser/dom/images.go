// internal/browser/dom/images.go
package dom

import (
	"image"
	"strings"

	"golang.org/x/net/html"
)

// ImageState is the load state of an <img>. Pixels may be nil when only the
// natural size is known.
type ImageState struct {
	Source        string
	NaturalWidth  int
	NaturalHeight int
	Complete      bool
	Broken        bool
	Pixels        image.Image
}

// CurrentSource is the resolved src of an image element.
func (d *Document) CurrentSource(n *html.Node) string {
	src, _ := Attr(n, "src")
	return d.ResolveURL(src)
}

// SourceCandidates returns the resolved src of n followed by every srcset
// candidate URL, without duplicates. The browser may display any of them.
func (d *Document) SourceCandidates(n *html.Node) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(ref string) {
		u := d.ResolveURL(ref)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	src, _ := Attr(n, "src")
	add(src)
	for _, cand := range strings.Split(AttrOr(n, "srcset", ""), ",") {
		if fields := strings.Fields(cand); len(fields) > 0 {
			add(fields[0])
		}
	}
	return out
}

// Image returns a copy of n's load state. Unknown images report incomplete.
func (d *Document) Image(n *html.Node) ImageState {
	if st, ok := d.images[n]; ok {
		return *st
	}
	return ImageState{Source: d.CurrentSource(n)}
}

// CompleteImage marks n as decoded and dispatches load as a task.
func (d *Document) CompleteImage(n *html.Node, pixels image.Image) {
	b := pixels.Bounds()
	d.finishImage(n, &ImageState{NaturalWidth: b.Dx(), NaturalHeight: b.Dy(), Complete: true, Pixels: pixels})
}

// CompleteImageSize marks n as loaded with a natural size but no pixel data.
func (d *Document) CompleteImageSize(n *html.Node, width, height int) {
	d.finishImage(n, &ImageState{NaturalWidth: width, NaturalHeight: height, Complete: true})
}

// FailImage marks n as broken and dispatches error as a task.
func (d *Document) FailImage(n *html.Node) {
	d.images[n] = &ImageState{Source: d.CurrentSource(n), Complete: true, Broken: true}
	d.touch()
	d.loop.Post(func() { d.Dispatch(n, &Event{Type: "error"}) })
}

func (d *Document) finishImage(n *html.Node, st *ImageState) {
	st.Source = d.CurrentSource(n)
	d.images[n] = st
	d.touch()
	d.loop.Post(func() {
		// A src change after completion supersedes this load.
		if cur, ok := d.images[n]; ok && cur == st {
			d.Dispatch(n, &Event{Type: "load"})
		}
	})
}

// resetImage forgets the load state of n after a src change.
func (d *Document) resetImage(n *html.Node) {
	delete(d.images, n)
}

// IsLoaded reports a complete, unbroken image with a natural size.
func (d *Document) IsLoaded(n *html.Node) bool {
	st, ok := d.images[n]
	return ok && st.Complete && !st.Broken && st.NaturalWidth > 0 && st.NaturalHeight > 0
}

// Images lists connected <img> elements in document order.
func (d *Document) Images() []*html.Node {
	return Elements(d.root, "img")
}

func (d *Document) intrinsicSize(n *html.Node) (float64, float64, bool) {
	st, ok := d.images[n]
	if !ok || !st.Complete || st.Broken || st.NaturalWidth <= 0 || st.NaturalHeight <= 0 {
		return 0, 0, false
	}
	return float64(st.NaturalWidth), float64(st.NaturalHeight), true
}
