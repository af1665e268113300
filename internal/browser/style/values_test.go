package style

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLength(t *testing.T) {
	ctx := LengthContext{FontSize: 20, RootFontSize: 16, Reference: 400, ViewportWidth: 1000, ViewportHeight: 500}
	tests := []struct {
		value string
		want  float64
		ok    bool
	}{
		{"10px", 10, true},
		{"0", 0, true},
		{"56.25%", 225, true},
		{"2em", 40, true},
		{"2rem", 32, true},
		{"10vw", 100, true},
		{"10vh", 50, true},
		{"10vmin", 50, true},
		{"10vmax", 100, true},
		{"12", 12, true},
		{"calc(100% - 20px)", 380, true},
		{"calc(50% + 1em)", 220, true},
		{"calc(10px -)", 0, false},
		{"auto", 0, false},
		{"none", 0, false},
		{"bogus", 0, false},
		{"3furlongs", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseLength(tt.value, ctx)
		assert.Equal(t, tt.ok, ok, tt.value)
		assert.InDelta(t, tt.want, got, 1e-9, tt.value)
	}
}

func TestLengthClassifiers(t *testing.T) {
	assert.True(t, IsPercentage("56.25%"))
	assert.False(t, IsPercentage("10px"))
	assert.True(t, IsViewportRelative("100vw"))
	assert.False(t, IsViewportRelative("100%"))
	assert.True(t, IsZeroOrAuto("0"))
	assert.True(t, IsZeroOrAuto("0px"))
	assert.True(t, IsZeroOrAuto("auto"))
	assert.True(t, IsZeroOrAuto(""))
	assert.False(t, IsZeroOrAuto("1px"))
	assert.Equal(t, "vmin", Unit("3vmin"))
}
