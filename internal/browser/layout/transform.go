// internal/browser/layout/transform.go
package layout

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xkilldash9x/depthlens/internal/browser/style"
)

// TransformMatrix represents a 2D affine transformation matrix.
// [ a c e ]
// [ b d f ]
// [ 0 0 1 ]
type TransformMatrix struct {
	A, B, C, D, E, F float64
}

// IdentityMatrix returns the identity matrix (no transformation).
func IdentityMatrix() TransformMatrix {
	return TransformMatrix{A: 1, D: 1}
}

// IsIdentity reports a matrix that leaves every point in place.
func (m TransformMatrix) IsIdentity() bool {
	return m == IdentityMatrix()
}

// Multiply returns m1 * m2, so m2 is applied first.
func (m1 TransformMatrix) Multiply(m2 TransformMatrix) TransformMatrix {
	return TransformMatrix{
		A: m1.A*m2.A + m1.C*m2.B,
		B: m1.B*m2.A + m1.D*m2.B,
		C: m1.A*m2.C + m1.C*m2.D,
		D: m1.B*m2.C + m1.D*m2.D,
		E: m1.A*m2.E + m1.C*m2.F + m1.E,
		F: m1.B*m2.E + m1.D*m2.F + m1.F,
	}
}

// Apply transforms a point.
func (m TransformMatrix) Apply(x, y float64) (float64, float64) {
	return m.A*x + m.C*y + m.E, m.B*x + m.D*y + m.F
}

// Inverse fails for singular matrices (e.g. scale(0)).
func (m TransformMatrix) Inverse() (TransformMatrix, error) {
	det := m.A*m.D - m.B*m.C
	if det == 0 {
		return TransformMatrix{}, fmt.Errorf("matrix is not invertible")
	}
	inv := 1 / det
	return TransformMatrix{
		A: m.D * inv,
		B: -m.B * inv,
		C: -m.C * inv,
		D: m.A * inv,
		E: (m.C*m.F - m.D*m.E) * inv,
		F: (m.B*m.E - m.A*m.F) * inv,
	}, nil
}

// Bounds maps the four corners of r and returns their bounding box.
func (m TransformMatrix) Bounds(r Rect) Rect {
	if m.IsIdentity() {
		return r
	}
	xs := [4]float64{}
	ys := [4]float64{}
	xs[0], ys[0] = m.Apply(r.X, r.Y)
	xs[1], ys[1] = m.Apply(r.Right(), r.Y)
	xs[2], ys[2] = m.Apply(r.X, r.Bottom())
	xs[3], ys[3] = m.Apply(r.Right(), r.Bottom())
	minX, maxX, minY, maxY := xs[0], xs[0], ys[0], ys[0]
	for i := 1; i < 4; i++ {
		minX, maxX = math.Min(minX, xs[i]), math.Max(maxX, xs[i])
		minY, maxY = math.Min(minY, ys[i]), math.Max(maxY, ys[i])
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

func TranslateMatrix(tx, ty float64) TransformMatrix {
	return TransformMatrix{A: 1, D: 1, E: tx, F: ty}
}

func ScaleMatrix(sx, sy float64) TransformMatrix {
	return TransformMatrix{A: sx, D: sy}
}

// RotateMatrix takes radians.
func RotateMatrix(angle float64) TransformMatrix {
	c, s := math.Cos(angle), math.Sin(angle)
	return TransformMatrix{A: c, B: s, C: -s, D: c}
}

// SkewMatrix takes radians.
func SkewMatrix(ax, ay float64) TransformMatrix {
	return TransformMatrix{A: 1, B: math.Tan(ay), C: math.Tan(ax), D: 1}
}

// ParseTransform folds a transform list into one matrix. Translation
// percentages resolve against the border box size w x h. Unknown functions are
// ignored.
func ParseTransform(value string, w, h float64, ctx style.LengthContext) TransformMatrix {
	value = strings.TrimSpace(value)
	out := IdentityMatrix()
	if value == "" || value == "none" {
		return out
	}
	lenX := func(s string) float64 {
		c := ctx
		c.Reference = w
		v, _ := style.ParseLength(s, c)
		return v
	}
	lenY := func(s string) float64 {
		c := ctx
		c.Reference = h
		v, _ := style.ParseLength(s, c)
		return v
	}

	for _, fn := range strings.Split(value, ")") {
		fn = strings.TrimSpace(fn)
		open := strings.IndexByte(fn, '(')
		if open <= 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(fn[:open]))
		args := strings.Fields(strings.ReplaceAll(fn[open+1:], ",", " "))
		num := func(i int, def float64) float64 {
			if i >= len(args) {
				return def
			}
			f, err := strconv.ParseFloat(strings.TrimSuffix(args[i], "%"), 64)
			if err != nil {
				return def
			}
			if strings.HasSuffix(args[i], "%") {
				f /= 100
			}
			return f
		}

		m := IdentityMatrix()
		switch name {
		case "matrix":
			if len(args) == 6 {
				m = TransformMatrix{A: num(0, 1), B: num(1, 0), C: num(2, 0), D: num(3, 1), E: num(4, 0), F: num(5, 0)}
			}
		case "translate":
			if len(args) >= 1 {
				ty := 0.0
				if len(args) > 1 {
					ty = lenY(args[1])
				}
				m = TranslateMatrix(lenX(args[0]), ty)
			}
		case "translatex":
			if len(args) == 1 {
				m = TranslateMatrix(lenX(args[0]), 0)
			}
		case "translatey":
			if len(args) == 1 {
				m = TranslateMatrix(0, lenY(args[0]))
			}
		case "translate3d":
			if len(args) >= 2 {
				m = TranslateMatrix(lenX(args[0]), lenY(args[1]))
			}
		case "scale", "scale3d":
			if len(args) >= 1 {
				sx := num(0, 1)
				m = ScaleMatrix(sx, num(1, sx))
			}
		case "scalex":
			m = ScaleMatrix(num(0, 1), 1)
		case "scaley":
			m = ScaleMatrix(1, num(0, 1))
		case "rotate", "rotatez":
			if len(args) == 1 {
				m = RotateMatrix(parseAngle(args[0]))
			}
		case "skew":
			if len(args) >= 1 {
				ay := 0.0
				if len(args) > 1 {
					ay = parseAngle(args[1])
				}
				m = SkewMatrix(parseAngle(args[0]), ay)
			}
		case "skewx":
			if len(args) == 1 {
				m = SkewMatrix(parseAngle(args[0]), 0)
			}
		case "skewy":
			if len(args) == 1 {
				m = SkewMatrix(0, parseAngle(args[0]))
			}
		}
		out = out.Multiply(m)
	}
	return out
}

// transformOrigin resolves transform-origin to absolute coordinates inside bb.
func transformOrigin(st *style.Computed, bb Rect) (float64, float64) {
	parts := strings.Fields(st.Get("transform-origin", "50% 50%"))
	xs, ys := "50%", "50%"
	if len(parts) >= 1 {
		xs = parts[0]
	}
	if len(parts) >= 2 {
		ys = parts[1]
	}
	// A lone vertical keyword applies to the y axis.
	if len(parts) == 1 && (xs == "top" || xs == "bottom") {
		xs, ys = "50%", parts[0]
	}
	keywords := map[string]string{"left": "0%", "center": "50%", "right": "100%", "top": "0%", "bottom": "100%"}
	if k, ok := keywords[xs]; ok {
		xs = k
	}
	if k, ok := keywords[ys]; ok {
		ys = k
	}
	ox, _ := style.ParseLength(xs, st.LengthContext(bb.Width))
	oy, _ := style.ParseLength(ys, st.LengthContext(bb.Height))
	return bb.X + ox, bb.Y + oy
}

func parseAngle(s string) float64 {
	s = strings.TrimSpace(strings.ToLower(s))
	unit := func(suffix string) (float64, bool) {
		if !strings.HasSuffix(s, suffix) {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, suffix), 64)
		return f, err == nil
	}
	if v, ok := unit("grad"); ok {
		return v * math.Pi / 200
	}
	if v, ok := unit("rad"); ok {
		return v
	}
	if v, ok := unit("deg"); ok {
		return v * math.Pi / 180
	}
	if v, ok := unit("turn"); ok {
		return v * 2 * math.Pi
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v * math.Pi / 180
}
