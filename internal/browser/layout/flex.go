// internal/browser/layout/flex.go
package layout

import (
	"math"
	"strconv"
	"strings"

	"github.com/xkilldash9x/depthlens/internal/browser/style"
)

// -- Flexbox --

type flexItem struct {
	box    *Box
	basis  float64 // content size on the main axis
	outer  float64 // basis plus padding, border, margins
	grow   float64
	shrink float64
}

func (e *Engine) gaps(b *Box, own containingBlock) (row, col float64) {
	row, _ = b.Style.Length("row-gap", own.rect.Height)
	col, _ = b.Style.Length("column-gap", own.rect.Width)
	if g := strings.Fields(b.Style.Get("gap", "")); len(g) > 0 {
		ctx := b.Style.LengthContext(own.rect.Height)
		if !b.Style.Has("row-gap") {
			row, _ = style.ParseLength(g[0], ctx)
		}
		if !b.Style.Has("column-gap") {
			ctx.Reference = own.rect.Width
			col, _ = style.ParseLength(g[len(g)-1], ctx)
		}
	}
	return math.Max(0, row), math.Max(0, col)
}

func styleNumber(st *style.Computed, prop string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(st.Get(prop, "")), 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

// layoutFlex lays out a flex container's items. Returns the content height.
func (e *Engine) layoutFlex(b *Box, own containingBlock) float64 {
	content := b.Dimensions.Content
	rowGap, colGap := e.gaps(b, own)

	var inflow []*Box
	for _, c := range b.Children {
		if c.IsOutOfFlow() {
			c.staticX, c.staticY = 0, 0
			e.enqueue(c)
			continue
		}
		inflow = append(inflow, c)
	}
	if len(inflow) == 0 {
		return 0
	}

	if strings.HasPrefix(b.Style.Get("flex-direction", "row"), "column") {
		return e.layoutFlexColumn(b, inflow, own, rowGap)
	}

	items := make([]flexItem, 0, len(inflow))
	for _, c := range inflow {
		it := flexItem{box: c, grow: 0, shrink: 1}
		if c.Kind == TextBox {
			it.basis = measureText(c.Node.Data, c.Style.FontSize())
			it.outer = it.basis
			items = append(items, it)
			continue
		}
		e.resolveEdges(c, own.rect.Width)
		it.grow = styleNumber(c.Style, "flex-grow", 0)
		it.shrink = styleNumber(c.Style, "flex-shrink", 1)
		if basis, ok := c.Style.Length("flex-basis", own.rect.Width); ok {
			it.basis = basis
			if c.Style.BorderBox() {
				it.basis = math.Max(0, basis-c.Dimensions.innerHorizontal())
			}
		} else if w, ok := e.specifiedWidth(c, own.rect.Width); ok {
			it.basis = w
		} else if c.Kind == ReplacedBox {
			it.basis, _ = e.replacedSize(c, own)
		} else {
			it.basis = e.preferredContentWidth(c)
		}
		it.outer = it.basis + c.Dimensions.innerHorizontal() + c.Dimensions.Margin.Horizontal()
		items = append(items, it)
	}

	wrap := strings.HasPrefix(b.Style.Get("flex-wrap", "nowrap"), "wrap")
	var lines [][]flexItem
	var cur []flexItem
	used := 0.0
	for _, it := range items {
		need := it.outer
		if len(cur) > 0 {
			need += colGap
		}
		if wrap && len(cur) > 0 && used+need > content.Width+0.01 {
			lines = append(lines, cur)
			cur, used, need = nil, 0, it.outer
		}
		cur = append(cur, it)
		used += need
	}
	lines = append(lines, cur)

	justify := b.Style.Get("justify-content", "flex-start")
	align := b.Style.Get("align-items", "stretch")
	cursorY := content.Y
	for li, line := range lines {
		e.resolveFlexibleLengths(line, content.Width, colGap)

		lineCross := 0.0
		for _, it := range line {
			e.layoutFlexItem(it, own)
			lineCross = math.Max(lineCross, it.box.Dimensions.MarginBox().Height)
		}
		if len(lines) == 1 && own.definiteHeight {
			lineCross = own.rect.Height
		}

		usedMain := colGap * float64(len(line)-1)
		for _, it := range line {
			usedMain += it.box.Dimensions.MarginBox().Width
		}
		start, between := distribute(justify, content.Width-usedMain, len(line))

		x := content.X + start
		for _, it := range line {
			c := it.box
			mb := c.Dimensions.MarginBox()
			itemAlign := c.Style.Get("align-self", "auto")
			if itemAlign == "auto" || c.Kind == TextBox {
				itemAlign = align
			}
			dy := 0.0
			switch itemAlign {
			case "center":
				dy = (lineCross - mb.Height) / 2
			case "flex-end", "end":
				dy = lineCross - mb.Height
			case "stretch", "normal":
				if c.Kind != TextBox && c.Kind != ReplacedBox {
					if _, ok := e.specifiedHeight(c, own); !ok {
						stretched := lineCross - c.Dimensions.innerVertical() - c.Dimensions.Margin.Vertical()
						if stretched > c.Dimensions.Content.Height {
							c.Dimensions.Content.Height = stretched
						}
					}
				}
			}
			shift(c, x-mb.X, cursorY+dy-mb.Y)
			x += mb.Width + colGap + between
		}
		cursorY += lineCross
		if li < len(lines)-1 {
			cursorY += rowGap
		}
	}
	return cursorY - content.Y
}

// resolveFlexibleLengths distributes free space on one line by grow or shrink
// factors, writing the used main size into basis.
func (e *Engine) resolveFlexibleLengths(line []flexItem, avail, gap float64) {
	used := gap * float64(len(line)-1)
	for _, it := range line {
		used += it.outer
	}
	free := avail - used
	switch {
	case free > 0:
		total := 0.0
		for _, it := range line {
			total += it.grow
		}
		if total == 0 {
			return
		}
		for i := range line {
			line[i].basis += free * line[i].grow / total
		}
	case free < 0:
		total := 0.0
		for _, it := range line {
			total += it.shrink * it.basis
		}
		if total == 0 {
			return
		}
		for i := range line {
			line[i].basis = math.Max(0, line[i].basis+free*line[i].shrink*line[i].basis/total)
		}
	}
}

func (e *Engine) layoutFlexItem(it flexItem, own containingBlock) {
	c := it.box
	if c.Kind == TextBox {
		e.layoutInlineLevel(c, it.basis, own)
		return
	}
	w := e.clampWidth(c, it.basis, own.rect.Width)
	e.layoutAt(c, 0, 0, w, own)
}

func (e *Engine) layoutFlexColumn(b *Box, items []*Box, own containingBlock, gap float64) float64 {
	content := b.Dimensions.Content
	align := b.Style.Get("align-items", "stretch")
	y := content.Y
	for i, c := range items {
		if i > 0 {
			y += gap
		}
		if c.Kind == TextBox {
			e.layoutInlineLevel(c, content.Width, own)
			shift(c, content.X, y)
			y += c.Dimensions.MarginBox().Height
			continue
		}
		itemAlign := c.Style.Get("align-self", "auto")
		if itemAlign == "auto" {
			itemAlign = align
		}
		if itemAlign == "stretch" || itemAlign == "normal" || c.Kind == ReplacedBox {
			e.layoutBlockLevel(c, content.X, y, own)
		} else {
			e.layoutInlineLevel(c, content.Width, own)
			mb := c.Dimensions.MarginBox()
			dx := 0.0
			switch itemAlign {
			case "center":
				dx = (content.Width - mb.Width) / 2
			case "flex-end", "end":
				dx = content.Width - mb.Width
			}
			shift(c, content.X+dx-mb.X, y-mb.Y)
		}
		y += c.Dimensions.MarginBox().Height
	}
	return y - content.Y
}

// distribute returns the leading offset and the extra spacing between items
// for a justify-content value.
func distribute(justify string, free float64, n int) (start, between float64) {
	if n == 0 {
		return 0, 0
	}
	switch justify {
	case "flex-end", "end", "right":
		return free, 0
	case "center":
		return free / 2, 0
	}
	if free <= 0 {
		return 0, 0
	}
	switch justify {
	case "space-between":
		if n > 1 {
			return 0, free / float64(n-1)
		}
	case "space-around":
		return free / float64(n) / 2, free / float64(n)
	case "space-evenly":
		return free / float64(n+1), free / float64(n+1)
	}
	return 0, 0
}

// -- Grid --

type track struct {
	fixed float64
	fr    float64
	min   float64
}

// layoutGrid places items row-major into the column tracks. Rows size to
// their tallest item and items stretch to the row. Returns the content height.
func (e *Engine) layoutGrid(b *Box, own containingBlock) float64 {
	content := b.Dimensions.Content
	rowGap, colGap := e.gaps(b, own)
	ctx := b.Style.LengthContext(content.Width)
	cols := resolveTracks(b.Style.Get("grid-template-columns", "none"), content.Width, colGap, ctx)
	if len(cols) == 0 {
		cols = []float64{content.Width}
	}
	autoRow, hasAutoRow := b.Style.Length("grid-auto-rows", own.rect.Height)

	var inflow []*Box
	for _, c := range b.Children {
		if c.IsOutOfFlow() {
			c.staticX, c.staticY = 0, 0
			e.enqueue(c)
			continue
		}
		inflow = append(inflow, c)
	}

	y := content.Y
	for start := 0; start < len(inflow); start += len(cols) {
		end := start + len(cols)
		if end > len(inflow) {
			end = len(inflow)
		}
		row := inflow[start:end]
		x := content.X
		rowH := 0.0
		for i, c := range row {
			cell := containingBlock{rect: Rect{X: x, Y: y, Width: cols[i]}}
			if c.Kind == TextBox {
				e.layoutInlineLevel(c, cols[i], cell)
				shift(c, x, y)
			} else {
				e.resolveEdges(c, cols[i])
				w, ok := e.specifiedWidth(c, cols[i])
				if !ok {
					w = math.Max(0, cols[i]-c.Dimensions.innerHorizontal()-c.Dimensions.Margin.Horizontal())
				}
				e.layoutAt(c, x, y, e.clampWidth(c, w, cols[i]), cell)
			}
			rowH = math.Max(rowH, c.Dimensions.MarginBox().Height)
			x += cols[i] + colGap
		}
		if hasAutoRow {
			rowH = math.Max(rowH, autoRow)
		}
		for _, c := range row {
			if c.Kind == TextBox || c.Kind == ReplacedBox {
				continue
			}
			if _, ok := e.specifiedHeight(c, containingBlock{}); ok {
				continue
			}
			stretched := rowH - c.Dimensions.innerVertical() - c.Dimensions.Margin.Vertical()
			if stretched > c.Dimensions.Content.Height {
				c.Dimensions.Content.Height = stretched
			}
		}
		y += rowH
		if end < len(inflow) {
			y += rowGap
		}
	}
	return y - content.Y
}

// resolveTracks sizes a grid-template-columns list against the available
// width. Supports lengths, fr, auto, minmax() and repeat() including
// auto-fill and auto-fit.
func resolveTracks(value string, avail, gap float64, ctx style.LengthContext) []float64 {
	value = strings.TrimSpace(value)
	if value == "" || value == "none" {
		return nil
	}
	var tracks []track
	for _, tok := range splitTopLevel(value) {
		if strings.HasPrefix(tok, "repeat(") && strings.HasSuffix(tok, ")") {
			inner := tok[len("repeat(") : len(tok)-1]
			comma := strings.IndexByte(inner, ',')
			if comma < 0 {
				continue
			}
			countStr := strings.TrimSpace(inner[:comma])
			var pattern []track
			for _, t := range splitTopLevel(inner[comma+1:]) {
				pattern = append(pattern, parseTrack(t, avail, ctx))
			}
			if len(pattern) == 0 {
				continue
			}
			count, err := strconv.Atoi(countStr)
			if err != nil {
				if countStr != "auto-fill" && countStr != "auto-fit" {
					continue
				}
				unit := 0.0
				for _, p := range pattern {
					unit += math.Max(p.fixed, p.min) + gap
				}
				count = 1
				if unit > 0 {
					count = int(math.Max(1, math.Floor((avail+gap)/unit)))
				}
			}
			for i := 0; i < count; i++ {
				tracks = append(tracks, pattern...)
			}
			continue
		}
		tracks = append(tracks, parseTrack(tok, avail, ctx))
	}
	if len(tracks) == 0 {
		return nil
	}

	remaining := avail - gap*float64(len(tracks)-1)
	totalFr := 0.0
	for _, t := range tracks {
		if t.fr > 0 {
			totalFr += t.fr
			remaining -= t.min
		} else {
			remaining -= t.fixed
		}
	}
	out := make([]float64, len(tracks))
	for i, t := range tracks {
		if t.fr > 0 {
			share := 0.0
			if totalFr > 0 && remaining > 0 {
				share = remaining * t.fr / totalFr
			}
			out[i] = t.min + share
		} else {
			out[i] = t.fixed
		}
	}
	return out
}

func parseTrack(tok string, avail float64, ctx style.LengthContext) track {
	tok = strings.TrimSpace(tok)
	if tok == "auto" {
		return track{fr: 1}
	}
	if strings.HasSuffix(tok, "fr") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(tok, "fr"), 64)
		if err == nil && f > 0 {
			return track{fr: f}
		}
		return track{fr: 1}
	}
	if strings.HasPrefix(tok, "minmax(") && strings.HasSuffix(tok, ")") {
		args := strings.SplitN(tok[len("minmax("):len(tok)-1], ",", 2)
		if len(args) == 2 {
			lo := parseTrack(args[0], avail, ctx)
			hi := parseTrack(args[1], avail, ctx)
			if hi.fr > 0 {
				return track{fr: hi.fr, min: lo.fixed}
			}
			return track{fixed: math.Max(lo.fixed, hi.fixed)}
		}
	}
	c := ctx
	c.Reference = avail
	v, _ := style.ParseLength(tok, c)
	return track{fixed: math.Max(0, v)}
}

// splitTopLevel splits on whitespace outside parentheses, dropping commas at
// the top level.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, -1
	for i, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')':
			depth--
		case (r == ' ' || r == '\t' || r == '\n' || r == ',') && depth == 0:
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}
