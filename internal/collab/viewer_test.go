package collab_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/collab"
	"github.com/xkilldash9x/depthlens/internal/testing/harness"
)

func TestDOMViewerAttachAndClose(t *testing.T) {
	p := harness.NewPage(t, `<div id="box" style="position:relative"><img id="x" src="/a.jpg"></div>`)
	box, img := p.Node("box"), p.Node("x")
	f := collab.NewDOMViewerFactory(p.Doc, p.Logger)

	var readyErr error
	readyCalls := 0
	v, err := f.CreateForLayout("https://cdn.test/a.glb", box, img,
		core.LayoutClassification{Kind: core.LayoutGridChild},
		collab.ViewerOptions{Width: 320, Height: 240, Immersive: true},
		func(err error) { readyCalls++; readyErr = err })
	require.NoError(t, err)

	n := v.Node()
	assert.Same(t, box, n.Parent)
	assert.Equal(t, "https://cdn.test/a.glb", dom.AttrOr(n, "data-artifact-url", ""))
	assert.Equal(t, "grid-child", dom.AttrOr(n, "data-layout", ""))
	assert.True(t, dom.HasAttr(n, "data-immersive"))
	assert.True(t, core.IsGenerated(n))
	w, _ := p.Doc.InlineStyle(n, "width")
	assert.Equal(t, "320px", w)
	assert.Equal(t, "true", dom.AttrOr(box, core.AttrViewerActive, ""))

	assert.Zero(t, readyCalls, "ready is delivered asynchronously")
	p.Loop.RunPending()
	assert.Equal(t, 1, readyCalls)
	assert.NoError(t, readyErr)

	v.Close()
	v.Close()
	assert.Nil(t, n.Parent)
	assert.False(t, dom.HasAttr(box, core.AttrViewerActive))
}

func TestDOMViewerPreserveOriginalFillsContainer(t *testing.T) {
	p := harness.NewPage(t, `<div id="box"><img id="x" src="/a.jpg"></div>`)
	f := collab.NewDOMViewerFactory(p.Doc, nil)
	v, err := f.CreateForLayout("a.glb", p.Node("box"), p.Node("x"),
		core.LayoutClassification{Kind: core.LayoutPaddingAspectRatio, PreserveOriginal: true},
		collab.ViewerOptions{Width: 10, Height: 10}, nil)
	require.NoError(t, err)
	h, _ := p.Doc.InlineStyle(v.Node(), "height")
	assert.Equal(t, "100%", h)
}

func TestDOMViewerClosedBeforeReady(t *testing.T) {
	p := harness.NewPage(t, `<div id="box"><img id="x" src="/a.jpg"></div>`)
	f := collab.NewDOMViewerFactory(p.Doc, nil)
	var readyErr error
	v, err := f.CreateForLayout("a.glb", p.Node("box"), p.Node("x"), core.LayoutClassification{},
		collab.ViewerOptions{Width: 10, Height: 10}, func(err error) { readyErr = err })
	require.NoError(t, err)
	v.Close()
	p.Loop.RunPending()
	assert.ErrorIs(t, readyErr, core.ErrDetached)
}

func TestDOMViewerRejects(t *testing.T) {
	p := harness.NewPage(t, `<div id="box"><img id="x" src="/a.jpg"></div>`)
	f := collab.NewDOMViewerFactory(p.Doc, nil)
	box, img := p.Node("box"), p.Node("x")

	_, err := f.CreateForLayout("", box, img, core.LayoutClassification{}, collab.ViewerOptions{}, nil)
	assert.Error(t, err)

	p.Doc.Remove(box)
	_, err = f.CreateForLayout("a.glb", box, img, core.LayoutClassification{}, collab.ViewerOptions{}, nil)
	assert.ErrorIs(t, err, core.ErrDetached)
}
