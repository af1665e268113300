// internal/augment/pattern/detectors.go
package pattern

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/style"
)

// -- Padding-box aspect ratio --

func detectPaddingBox(a *Analyzer, s *scene, out *core.LayoutClassification) {
	if s.container == nil {
		return
	}
	chain := append([]*html.Node{s.container}, core.Ancestors(s.container, a.policy.AncestorDepth)...)
	for _, n := range chain {
		if isPaddingBox(a.doc.ComputedStyle(n)) {
			out.Flags |= core.FlagPaddingBox
			out.Label(core.LayoutPaddingAspectRatio)
			out.Preserve()
			if out.PaddingContainer == nil {
				out.PaddingContainer = n
				if out.Target == nil {
					out.Target = a.boxSize(n)
				}
			}
			break
		}
	}
	for _, n := range append([]*html.Node{s.img}, chain...) {
		if hasAspectClass(n) || (n != s.img && hasAspectRatioProperty(a.doc.ComputedStyle(n))) {
			out.Flags |= core.FlagAspectClass
			out.Label(core.LayoutPaddingAspectRatio)
			out.Preserve()
			if out.PaddingContainer == nil && n != s.img {
				out.PaddingContainer = n
			}
			if out.Target == nil && n != s.img {
				out.Target = a.boxSize(n)
			}
			return
		}
	}
}

// isPaddingBox matches percentage vertical padding with a zero or auto
// height, or pixel vertical padding with a zero height.
func isPaddingBox(c *style.Computed) bool {
	if c == nil {
		return false
	}
	zero := isZeroHeight(c)
	auto := strings.EqualFold(strings.TrimSpace(c.Get("height", "auto")), "auto")
	for _, side := range []string{"padding-bottom", "padding-top"} {
		v := strings.TrimSpace(c.Get(side, "0"))
		if pct, ok := percent(v); ok {
			if pct > 0 && (zero || auto) {
				return true
			}
			continue
		}
		if px, ok := style.ParseLength(v, c.LengthContext(0)); ok && px > 0 && zero {
			return true
		}
	}
	return false
}

func isZeroHeight(c *style.Computed) bool {
	h, ok := style.ParseLength(strings.TrimSpace(c.Get("height", "auto")), c.LengthContext(0))
	return ok && h == 0
}

func percent(v string) (float64, bool) {
	if !strings.HasSuffix(v, "%") {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(v, "%")), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var aspectClassPrefixes = []string{"aspect-", "aspect_", "ratio-", "embed-responsive-", "aspectratio-"}

func hasAspectClass(n *html.Node) bool {
	for _, cls := range dom.Classes(n) {
		c := strings.ToLower(cls)
		if c == "ratio" || c == "aspect-ratio" || c == "embed-responsive" || c == "aspectratio" {
			return true
		}
		for _, p := range aspectClassPrefixes {
			if strings.HasPrefix(c, p) {
				return true
			}
		}
	}
	return false
}

func hasAspectRatioProperty(c *style.Computed) bool {
	v := strings.TrimSpace(strings.ToLower(c.Get("aspect-ratio", "auto")))
	return v != "" && v != "auto"
}

// -- Absolute positioning --

func detectAbsolute(a *Analyzer, s *scene, out *core.LayoutClassification) {
	if !s.imgStyle.Position().IsOutOfFlow() {
		return
	}
	out.Flags |= core.FlagAbsolute
	out.Label(core.LayoutAbsolutePositioned)
	out.Preserve()
	if out.Target == nil {
		out.Target = a.boxSize(s.container)
	}
}

// -- Flex and grid --

func detectFlexGrid(_ *Analyzer, s *scene, out *core.LayoutClassification) {
	if s.container == nil {
		return
	}
	switch d := s.conStyle.Display(); {
	case d.IsFlex():
		out.Flags |= core.FlagFlex
		out.Label(core.LayoutFlexChild)
	case d.IsGrid():
		// Grid placement belongs to the direct child; a wrapper would lose it.
		out.Flags |= core.FlagGrid
		out.Label(core.LayoutGridChild)
		out.Preserve()
	}
}

// -- Responsive units --

var responsiveUnits = []string{"%", "vw", "vh", "vmin", "vmax"}

func detectResponsive(_ *Analyzer, s *scene, out *core.LayoutClassification) {
	for _, prop := range []string{"width", "height", "max-width", "max-height"} {
		v := strings.ToLower(strings.TrimSpace(s.imgStyle.Get(prop, "")))
		if v == "" {
			continue
		}
		for _, u := range responsiveUnits {
			if strings.HasSuffix(v, u) {
				out.Flags |= core.FlagResponsive
				out.Label(core.LayoutResponsive)
				return
			}
		}
	}
}

// -- Transforms --

func detectTransform(_ *Analyzer, s *scene, out *core.LayoutClassification) {
	if s.imgStyle.HasTransform() || (s.container != nil && s.conStyle.HasTransform()) {
		out.Flags |= core.FlagTransform
		out.Label(core.LayoutTransformed)
	}
}

// -- Object fit --

func detectObjectFit(a *Analyzer, s *scene, out *core.LayoutClassification) {
	if fit := s.imgStyle.ObjectFit(); fit == "fill" || fit == "" {
		return
	}
	out.Flags |= core.FlagObjectFit
	out.Label(core.LayoutObjectFit)
	if out.Target == nil {
		out.Target = a.boxSize(s.container)
	}
}

// -- Complex positioning --

func detectComplex(a *Analyzer, s *scene, out *core.LayoutClassification) {
	for _, n := range []*html.Node{s.img, s.container} {
		if n == nil {
			continue
		}
		c := a.doc.ComputedStyle(n)
		if !a.stacked(c) {
			continue
		}
		if len(dom.Classes(n)) >= a.policy.ComplexClassCount {
			out.Flags |= core.FlagComplex
			out.Label(core.LayoutComplexPositioned)
			out.Preserve()
			return
		}
	}
}

func (a *Analyzer) stacked(c *style.Computed) bool {
	if c.Position().IsOutOfFlow() || c.HasTransform() {
		return true
	}
	z, ok := c.ZIndex()
	return ok && z >= a.policy.ComplexZIndex
}
