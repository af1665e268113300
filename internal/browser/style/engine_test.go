package style

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/depthlens/internal/browser/parser"
	"golang.org/x/net/html"
)

// parseHTMLAndFind parses a body fragment and returns the element with the given id.
func parseHTMLAndFind(t *testing.T, body, id string) (*html.Node, *html.Node) {
	t.Helper()
	doc, err := html.Parse(strings.NewReader("<html><head></head><body>" + body + "</body></html>"))
	require.NoError(t, err)
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode {
			if v, ok := attr(n, "id"); ok && v == id {
				found = n
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	require.NotNil(t, found, "element #%s not found", id)
	return doc, found
}

func setupEngine(css string) *Engine {
	engine := NewEngine()
	engine.SetViewport(1000, 800)
	engine.AddAuthorSheet(parser.Parse(css))
	return engine
}

func TestCascadeOrdering(t *testing.T) {
	doc, target := parseHTMLAndFind(t, `<p id="target" class="hl" style="color: inline">x</p>`, "target")

	t.Run("inline beats id", func(t *testing.T) {
		styles := setupEngine(`#target { color: id; } .hl { color: class; }`).ComputeTree(doc)
		assert.Equal(t, "inline", styles[target].Get("color", ""))
	})

	t.Run("important author beats inline", func(t *testing.T) {
		styles := setupEngine(`p { color: tag !important; }`).ComputeTree(doc)
		assert.Equal(t, "tag", styles[target].Get("color", ""))
	})

	t.Run("specificity then order", func(t *testing.T) {
		styles := setupEngine(`#target { width: 1px } .hl { width: 2px } p.hl { width: 3px } .hl { height: 1px } .hl { height: 2px }`).ComputeTree(doc)
		assert.Equal(t, "1px", styles[target].Get("width", ""))
		assert.Equal(t, "2px", styles[target].Get("height", ""))
	})
}

func TestShorthandsExpandBeforeCascade(t *testing.T) {
	doc, target := parseHTMLAndFind(t, `<div id="target" class="box"></div>`, "target")
	styles := setupEngine(`
		.box { padding-top: 5px; }
		div { padding: 1px 2px 3px; margin: 0 auto; inset: 10%; border: 2px solid red; }
	`).ComputeTree(doc)

	c := styles[target]
	// The class selector outranks the tag shorthand for the one longhand it sets.
	assert.Equal(t, "5px", c.Get("padding-top", ""))
	assert.Equal(t, "2px", c.Get("padding-right", ""))
	assert.Equal(t, "3px", c.Get("padding-bottom", ""))
	assert.Equal(t, "2px", c.Get("padding-left", ""))
	assert.Equal(t, "auto", c.Get("margin-left", ""))
	assert.Equal(t, "10%", c.Get("bottom", ""))
	assert.Equal(t, "2px", c.Get("border-left-width", ""))
}

func TestInheritance(t *testing.T) {
	doc, target := parseHTMLAndFind(t, `<div id="outer" style="visibility:hidden; pointer-events:none; font-size: 20px; padding: 4px"><span id="target" style="font-size: 2em; padding: inherit"></span></div>`, "target")
	styles := setupEngine(``).ComputeTree(doc)
	c := styles[target]

	assert.Equal(t, "hidden", c.Visibility())
	assert.Equal(t, "none", c.PointerEvents())
	assert.Equal(t, 40.0, c.FontSize())
	assert.Equal(t, "4px", c.Get("padding-left", ""))
	assert.False(t, c.IsVisible())
}

func TestComputedAccessors(t *testing.T) {
	doc, target := parseHTMLAndFind(t, `<img id="target" style="position:absolute; z-index: 12; transform: rotate(5deg); opacity: 40%; object-fit: cover; box-sizing: border-box">`, "target")
	c := setupEngine(``).ComputeTree(doc)[target]

	assert.Equal(t, DisplayInline, c.Display())
	assert.Equal(t, PositionAbsolute, c.Position())
	assert.True(t, c.Position().IsOutOfFlow())
	z, ok := c.ZIndex()
	assert.True(t, ok)
	assert.Equal(t, 12, z)
	assert.True(t, c.HasTransform())
	assert.InDelta(t, 0.4, c.Opacity(), 1e-9)
	assert.Equal(t, "cover", c.ObjectFit())
	assert.True(t, c.BorderBox())
	assert.True(t, c.IsVisible())
}

func TestDefaultDisplayAndHidden(t *testing.T) {
	doc, target := parseHTMLAndFind(t, `<figure id="fig"><img id="target" hidden></figure><script id="s"></script>`, "target")
	styles := setupEngine(``).ComputeTree(doc)

	assert.Equal(t, DisplayNone, styles[target].Display())
	fig := target.Parent
	assert.Equal(t, DisplayBlock, styles[fig].Display())

	var head *html.Node
	for n := range styles {
		if n.Data == "head" {
			head = n
		}
	}
	require.NotNil(t, head)
	assert.Equal(t, DisplayNone, styles[head].Display())
}

func TestCollectStyleSheets(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<html><head><style>.a{color:red}</style></head><body><style>.b{color:blue}</style></body></html>`))
	require.NoError(t, err)
	sheets := CollectStyleSheets(doc)
	require.Len(t, sheets, 2)
	assert.Equal(t, []string{"b"}, sheets[1].Rules[0].Selectors[0].Parts[0].Compound.Classes)
}
