// internal/augment/pattern/analyzer.go
package pattern

import (
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/layout"
	"github.com/xkilldash9x/depthlens/internal/browser/style"
)

// Document is the read-only view the analyzer needs.
type Document interface {
	ComputedStyle(n *html.Node) *style.Computed
	BoundingRect(n *html.Node) layout.Rect
}

// Detector inspects one layout condition. It may label the classification,
// add flags, mark it preserved or supply a target size.
type Detector struct {
	Name string
	Run  func(a *Analyzer, s *scene, out *core.LayoutClassification)
}

// DefaultDetectors is the fixed evaluation order.
func DefaultDetectors() []Detector {
	return []Detector{
		{Name: "padding-box", Run: detectPaddingBox},
		{Name: "absolute", Run: detectAbsolute},
		{Name: "flex-grid", Run: detectFlexGrid},
		{Name: "responsive-unit", Run: detectResponsive},
		{Name: "transform", Run: detectTransform},
		{Name: "object-fit", Run: detectObjectFit},
		{Name: "complex", Run: detectComplex},
	}
}

// Analyzer labels the host layout around an image.
type Analyzer struct {
	logger    *zap.Logger
	doc       Document
	policy    core.Policy
	detectors []Detector
}

func New(logger *zap.Logger, doc Document, policy core.Policy) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		logger:    logger.Named("layout_analyzer"),
		doc:       doc,
		policy:    policy,
		detectors: DefaultDetectors(),
	}
}

// scene caches what every detector reads.
type scene struct {
	container *html.Node
	img       *html.Node
	imgStyle  *style.Computed
	conStyle  *style.Computed
}

// Analyze classifies the layout of img inside container. container is
// normally img's parent element; a nil container analyzes img alone. An
// unknown kind without flags is a valid result.
func (a *Analyzer) Analyze(container, img *html.Node) core.LayoutClassification {
	s := &scene{
		container: container,
		img:       img,
		imgStyle:  a.doc.ComputedStyle(img),
		conStyle:  a.doc.ComputedStyle(container),
	}
	var out core.LayoutClassification
	for _, d := range a.detectors {
		d.Run(a, s, &out)
	}
	if out.IsAmbiguous() {
		a.logger.Debug("No layout pattern detected.", zap.String("xpath", dom.GenerateUniqueXPath(img)))
	}
	return out
}

// boxSize is the rendered border box of n, or nil when it has no area.
func (a *Analyzer) boxSize(n *html.Node) *core.Size {
	if n == nil {
		return nil
	}
	r := a.doc.BoundingRect(n)
	if r.Width <= 0 || r.Height <= 0 {
		return nil
	}
	return &core.Size{Width: r.Width, Height: r.Height}
}
