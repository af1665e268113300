// internal/browser/style/values.go
package style

import (
	"math"
	"strconv"
	"strings"
)

// LengthContext carries everything needed to turn a CSS length into px.
// Reference is the percentage basis, which depends on the property.
type LengthContext struct {
	FontSize       float64
	RootFontSize   float64
	Reference      float64
	ViewportWidth  float64
	ViewportHeight float64
}

// ParseLength resolves a length or percentage to px. Keywords such as auto,
// none and normal report false. calc() with + and - terms is supported.
func ParseLength(value string, ctx LengthContext) (float64, bool) {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "", "auto", "none", "normal", "initial", "inherit", "unset", "max-content", "min-content", "fit-content":
		return 0, false
	case "0":
		return 0, true
	}
	if strings.HasPrefix(value, "calc(") && strings.HasSuffix(value, ")") {
		return parseCalc(value[len("calc("):len(value)-1], ctx)
	}

	num, unit := splitUnit(value)
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	switch unit {
	case "px", "":
		return f, true
	case "%":
		return ctx.Reference * f / 100, true
	case "rem":
		root := ctx.RootFontSize
		if root <= 0 {
			root = BaseFontSize
		}
		return f * root, true
	case "em":
		fs := ctx.FontSize
		if fs <= 0 {
			fs = BaseFontSize
		}
		return f * fs, true
	case "vw":
		return ctx.ViewportWidth * f / 100, true
	case "vh":
		return ctx.ViewportHeight * f / 100, true
	case "vmin":
		return math.Min(ctx.ViewportWidth, ctx.ViewportHeight) * f / 100, true
	case "vmax":
		return math.Max(ctx.ViewportWidth, ctx.ViewportHeight) * f / 100, true
	case "pt":
		return f * 96 / 72, true
	case "cm":
		return f * 96 / 2.54, true
	case "mm":
		return f * 96 / 25.4, true
	case "in":
		return f * 96, true
	}
	return 0, false
}

// Unit returns the unit suffix of a single length value ("%", "px", "vw", ...).
func Unit(value string) string {
	_, unit := splitUnit(strings.TrimSpace(strings.ToLower(value)))
	return unit
}

// IsPercentage reports a plain percentage value such as "56.25%".
func IsPercentage(value string) bool {
	return Unit(value) == "%"
}

// IsViewportRelative reports vw, vh, vmin and vmax lengths.
func IsViewportRelative(value string) bool {
	switch Unit(value) {
	case "vw", "vh", "vmin", "vmax":
		return true
	}
	return false
}

// IsZeroOrAuto reports values that leave an element without an intrinsic
// height of its own: auto, unset, or any zero length.
func IsZeroOrAuto(value string) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" || value == "auto" {
		return true
	}
	num, _ := splitUnit(value)
	f, err := strconv.ParseFloat(num, 64)
	return err == nil && f == 0
}

func splitUnit(value string) (string, string) {
	i := len(value)
	for i > 0 {
		c := value[i-1]
		if (c >= 'a' && c <= 'z') || c == '%' {
			i--
			continue
		}
		break
	}
	return value[:i], value[i:]
}

func parseCalc(expr string, ctx LengthContext) (float64, bool) {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return 0, false
	}
	total := 0.0
	sign := 1.0
	expectTerm := true
	for _, f := range fields {
		if !expectTerm {
			switch f {
			case "+":
				sign = 1
			case "-":
				sign = -1
			default:
				return 0, false
			}
			expectTerm = true
			continue
		}
		v, ok := ParseLength(f, ctx)
		if !ok {
			return 0, false
		}
		total += sign * v
		expectTerm = false
	}
	if expectTerm {
		return 0, false
	}
	return total, true
}
