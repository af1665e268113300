package dom_test

import (
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/browser/dom"
)

const xpathHTML = `
	<html>
	<body>
		<header id="masthead"><img src="logo.png"></header>
		<main>
			<figure><img src="lake.jpg"><figcaption>Lake</figcaption></figure>
			<figure><img src="forest.jpg"><img src="river.jpg"></figure>
			<ul class="thumbs">
				<li><img src="t1.jpg"></li>
				<!-- spacer -->
				<li><img src="t2.jpg"></li>
				<li id="pick"><img src="t3.jpg">Pick</li>
			</ul>
		</main>
	</body>
	</html>
	`

func TestGenerateUniqueXPath(t *testing.T) {
	doc, err := htmlquery.Parse(strings.NewReader(xpathHTML))
	require.NoError(t, err)

	tests := []struct {
		name          string
		targetXPath   string
		expectedXPath string
	}{
		{"Body", "//body", "/html[1]/body[1]"},
		{"Image under an id", "//header/img", `//*[@id='masthead']/img[1]`},
		{"First figure", "//figure[1]/img", "/html[1]/body[1]/main[1]/figure[1]/img[1]"},
		{"Sibling images", "(//figure)[2]/img[2]", "/html[1]/body[1]/main[1]/figure[2]/img[2]"},
		{"Item skipping comments", "//ul/li[2]/img", "/html[1]/body[1]/main[1]/ul[1]/li[2]/img[1]"},
		{"Element with ID", "//li[@id='pick']", `//*[@id='pick']`},
		{"Child of ID element", "//li[@id='pick']/img", `//*[@id='pick']/img[1]`},
		{"Text node resolves to its element", "//li[@id='pick']/text()", `//*[@id='pick']`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targetNode := htmlquery.FindOne(doc, tt.targetXPath)
			require.NotNil(t, targetNode, "Test setup error: target node not found with %s", tt.targetXPath)

			generatedXPath := dom.GenerateUniqueXPath(targetNode)
			assert.Equal(t, tt.expectedXPath, generatedXPath)

			want := targetNode
			if want.Type == html.TextNode {
				want = want.Parent
			}
			assert.Equal(t, want, htmlquery.FindOne(doc, generatedXPath), "generated XPath must select the node")
		})
	}
}

func TestGenerateUniqueXPathEdgeCases(t *testing.T) {
	assert.Empty(t, dom.GenerateUniqueXPath(nil))

	detached := &html.Node{Type: html.ElementNode, Data: "div"}
	assert.Equal(t, "/div[1]", dom.GenerateUniqueXPath(detached))

	quoted := &html.Node{Type: html.ElementNode, Data: "span", Attr: []html.Attribute{{Key: "id", Val: "it's"}}}
	assert.Equal(t, "/span[1]", dom.GenerateUniqueXPath(quoted))
}
