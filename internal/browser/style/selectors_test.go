package style

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/depthlens/internal/browser/parser"
)

func TestMatchAttribute(t *testing.T) {
	_, node := parseHTMLAndFind(t, `<input id="input" type="text" lang="en-US" class="foo bar" data-value="example-test">`, "input")

	tests := []struct {
		sel      parser.AttributeSelector
		expected bool
	}{
		{parser.AttributeSelector{Name: "lang"}, true},
		{parser.AttributeSelector{Name: "disabled"}, false},
		{parser.AttributeSelector{Name: "type", Operator: "=", Value: "text"}, true},
		{parser.AttributeSelector{Name: "class", Operator: "~=", Value: "foo"}, true},
		{parser.AttributeSelector{Name: "class", Operator: "~=", Value: "fo"}, false},
		{parser.AttributeSelector{Name: "lang", Operator: "|=", Value: "en"}, true},
		{parser.AttributeSelector{Name: "data-value", Operator: "^=", Value: "example"}, true},
		{parser.AttributeSelector{Name: "data-value", Operator: "$=", Value: "test"}, true},
		{parser.AttributeSelector{Name: "data-value", Operator: "*=", Value: "-"}, true},
		{parser.AttributeSelector{Name: "data-value", Operator: "*=", Value: ""}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, matchAttribute(node, tt.sel), "%+v", tt.sel)
	}
}

func TestMatchesCombinatorsAndPseudo(t *testing.T) {
	doc, img := parseHTMLAndFind(t, `
		<nav class="menu"><ul><li><a href="/"><img id="logo" class="icon"></a></li><li id="second"></li></ul></nav>
	`, "logo")
	_, second := parseHTMLAndFind(t, `<ul><li></li><li id="second"></li></ul>`, "second")

	tests := []struct {
		selector string
		node     bool
	}{
		{"nav img", true},
		{"nav > img", false},
		{"a > img.icon", true},
		{"li:first-child img", true},
		{"img:not(.icon)", false},
		{"img:not(.photo)", true},
		{"img:hover", false},
		{"[role=navigation] img, .menu img", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.node, Matches(img, parser.MustParseSelectorGroup(tt.selector)), tt.selector)
	}

	assert.True(t, Matches(second, parser.MustParseSelectorGroup("li + li")))
	assert.True(t, Matches(second, parser.MustParseSelectorGroup("li ~ li:last-child")))
	assert.False(t, Matches(second, parser.MustParseSelectorGroup("li:first-child")))

	found := QueryAll(doc, parser.MustParseSelectorGroup("li"))
	require.Len(t, found, 2)
	assert.Equal(t, "li", found[0].Data)

	assert.Equal(t, "nav", Closest(img, parser.MustParseSelectorGroup(".menu")).Data)
	assert.Nil(t, Closest(img, parser.MustParseSelectorGroup("footer")))
}

func TestMatchSpecificityPicksHighest(t *testing.T) {
	_, node := parseHTMLAndFind(t, `<div id="x" class="a"></div>`, "x")
	sp, ok := MatchSpecificity(node, parser.MustParseSelectorGroup("div, .a, #x, span"))
	require.True(t, ok)
	assert.Equal(t, parser.Specificity{1, 0, 0}, sp)
}
