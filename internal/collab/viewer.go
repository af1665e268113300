// internal/collab/viewer.go
package collab

import (
	"errors"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
)

// DOMViewerFactory renders viewers as generated nodes in the document. The
// node is a placeholder for the 3D renderer, sized to the resolved target and
// carrying the artifact URL.
type DOMViewerFactory struct {
	doc    *dom.Document
	logger *zap.Logger
}

func NewDOMViewerFactory(doc *dom.Document, logger *zap.Logger) *DOMViewerFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DOMViewerFactory{doc: doc, logger: logger.Named("viewer")}
}

type domViewer struct {
	doc       *dom.Document
	node      *html.Node
	container *html.Node
	closed    bool
}

func (v *domViewer) Node() *html.Node { return v.node }

func (v *domViewer) Close() {
	if v.closed {
		return
	}
	v.closed = true
	v.doc.Remove(v.node)
	v.doc.RemoveAttr(v.container, core.AttrViewerActive)
}

// CreateForLayout implements ViewerFactory. Overlay records get a viewer
// layered over the image; wrapped images get one inside the wrapper.
func (f *DOMViewerFactory) CreateForLayout(artifact string, container, img *html.Node, layout core.LayoutClassification, opts ViewerOptions, ready func(error)) (Viewer, error) {
	if artifact == "" {
		return nil, errors.New("viewer needs an artifact")
	}
	if container == nil || !f.doc.IsConnected(container) {
		return nil, core.ErrDetached
	}
	n := f.doc.CreateElement("div")
	n.Attr = append(n.Attr,
		html.Attribute{Key: "class", Val: core.ClassViewer},
		html.Attribute{Key: core.AttrGenerated, Val: "true"},
		html.Attribute{Key: "data-artifact-url", Val: artifact},
		html.Attribute{Key: "data-layout", Val: layout.Kind.String()},
	)
	if opts.Immersive {
		n.Attr = append(n.Attr, html.Attribute{Key: "data-immersive", Val: "true"})
	}
	f.doc.SetStyle(n, "position", "absolute")
	f.doc.SetStyle(n, "left", "0")
	f.doc.SetStyle(n, "top", "0")
	if layout.PreserveOriginal {
		f.doc.SetStyle(n, "width", "100%")
		f.doc.SetStyle(n, "height", "100%")
	} else {
		f.doc.SetStyle(n, "width", px(opts.Width))
		f.doc.SetStyle(n, "height", px(opts.Height))
	}
	f.doc.AppendChild(container, n)
	f.doc.SetAttr(container, core.AttrViewerActive, "true")

	v := &domViewer{doc: f.doc, node: n, container: container}
	f.logger.Debug("Viewer attached.",
		zap.String("artifact", artifact),
		zap.Float64("width", opts.Width),
		zap.Float64("height", opts.Height),
		zap.String("image", dom.GenerateUniqueXPath(img)),
	)
	if ready != nil {
		f.doc.Loop().Post(func() {
			if v.closed {
				ready(core.ErrDetached)
				return
			}
			ready(nil)
		})
	}
	return v, nil
}

func px(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) + "px" }
