// internal/augment/inject/surface.go
package inject

import (
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/loop"
)

const hoverTimer = "hover-restore"

// attachZone builds the interaction zone and its surface inside parent.
func (s *Strategist) attachZone(rec *core.InjectionRecord, parent *html.Node) {
	doc := s.ctx.Doc
	zone := s.generated("div", core.ClassZone)
	doc.SetAttr(zone, core.AttrFor, forValue(rec.Node))
	for _, d := range [][2]string{
		{"position", "absolute"},
		{"top", px(s.policy.ZoneOffset)},
		{"right", px(s.policy.ZoneOffset)},
		{"width", px(s.policy.ZoneSize)},
		{"height", px(s.policy.ZoneSize)},
		{"pointer-events", "auto"},
		{"z-index", "1"},
	} {
		doc.SetStyle(zone, d[0], d[1])
	}

	surface := s.generated("button", core.ClassSurface)
	doc.SetAttr(surface, "type", "button")
	doc.SetStyle(surface, "display", "block")
	doc.SetStyle(surface, "width", "100%")
	doc.SetStyle(surface, "height", "100%")
	doc.AppendChild(zone, surface)
	doc.AppendChild(parent, zone)
	rec.OnDetach(func() { doc.Remove(zone) })

	rec.Zone = zone
	rec.Surface = surface
	RenderState(doc, rec)

	click := doc.AddEventListener(surface, "click", func(ev *dom.Event) {
		ev.StopPropagation()
		ev.PreventDefault()
		if s.activate != nil {
			s.activate(rec)
		}
	})
	h := &hover{s: s, rec: rec}
	enter := doc.AddEventListener(zone, "mouseenter", func(*dom.Event) { h.suspend() })
	leave := doc.AddEventListener(zone, "mouseleave", func(*dom.Event) { h.schedule() })
	rec.OnDetach(func() {
		doc.RemoveEventListener(click)
		doc.RemoveEventListener(enter)
		doc.RemoveEventListener(leave)
		h.restore()
	})
}

// hover suspends the image's pointer events while the zone is hovered so the
// host's own hover handlers do not steal the click.
type hover struct {
	s         *Strategist
	rec       *core.InjectionRecord
	suspended bool
	prev      string
	had       bool
}

func (h *hover) suspend() {
	doc := h.s.ctx.Doc
	if !h.suspended {
		h.prev, h.had = doc.InlineStyle(h.rec.Image, "pointer-events")
		doc.SetStyle(h.rec.Image, "pointer-events", "none")
		h.suspended = true
	}
	h.schedule()
}

func (h *hover) schedule() {
	if !h.suspended {
		return
	}
	l := h.s.ctx.Loop
	id := l.SetTimeout(h.s.policy.HoverRestoreDelay, func() {
		h.rec.ClearTimer(hoverTimer)
		h.restore()
	})
	h.rec.SetTimer(hoverTimer, cancelTimer(l, id))
}

func (h *hover) restore() {
	if !h.suspended {
		return
	}
	h.suspended = false
	doc := h.s.ctx.Doc
	if h.had {
		doc.SetStyle(h.rec.Image, "pointer-events", h.prev)
		return
	}
	doc.RemoveStyle(h.rec.Image, "pointer-events")
}

func cancelTimer(l *loop.Loop, id loop.TimerID) func() {
	return func() { l.ClearTimeout(id) }
}

// -- State rendering --

// Label is the surface text for a state.
func Label(state core.State, failure *core.ConversionFailure) string {
	switch state {
	case core.StateProcessing:
		return "Converting..."
	case core.StateReady:
		return "View in 3D"
	case core.StateError:
		if failure == nil {
			return "Conversion failed"
		}
		switch failure.Kind {
		case core.FailureCORS:
			return "Image blocked by CORS"
		case core.FailureNetwork:
			return "Network error"
		case core.FailureTimeout:
			return "Timed out"
		case core.FailureServiceUnavailable:
			return "Service unavailable"
		}
		return "Conversion failed"
	}
	return "Convert to 3D"
}

// RenderState mirrors rec's lifecycle state onto its surface.
func RenderState(doc *dom.Document, rec *core.InjectionRecord) {
	if rec.Surface == nil {
		return
	}
	state := rec.State()
	doc.SetAttr(rec.Surface, core.AttrState, state.String())
	doc.SetAttr(rec.Surface, "aria-busy", boolAttr(state == core.StateProcessing))
	if state == core.StateError && rec.Failure() != nil {
		doc.SetAttr(rec.Surface, "title", rec.Failure().Error())
	} else {
		doc.RemoveAttr(rec.Surface, "title")
	}
	doc.SetText(rec.Surface, Label(state, rec.Failure()))
}

func boolAttr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
