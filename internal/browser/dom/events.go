// internal/browser/dom/events.go
package dom

import (
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Event is a dispatched DOM event. Target is nil for window events.
type Event struct {
	Type          string
	Target        *html.Node
	CurrentTarget *html.Node
	Bubbles       bool
	// Viewport coordinates for pointer events.
	ClientX, ClientY float64

	stopped          bool
	defaultPrevented bool
}

// StopPropagation prevents the event from reaching further ancestors.
func (e *Event) StopPropagation() { e.stopped = true }

// PreventDefault marks the default action as cancelled.
func (e *Event) PreventDefault() { e.defaultPrevented = true }

// DefaultPrevented reports whether any listener called PreventDefault.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// Listener handles an event.
type Listener func(*Event)

// ListenerID identifies a registration for removal.
type ListenerID uint64

type listener struct {
	id      ListenerID
	node    *html.Node // nil for window listeners
	typ     string
	fn      Listener
	once    bool
	removed bool
}

type eventRegistry struct {
	next   ListenerID
	byID   map[ListenerID]*listener
	byNode map[*html.Node]map[string][]*listener
	window map[string][]*listener
}

func (r *eventRegistry) init() {
	r.byID = make(map[ListenerID]*listener)
	r.byNode = make(map[*html.Node]map[string][]*listener)
	r.window = make(map[string][]*listener)
}

func (r *eventRegistry) add(l *listener) ListenerID {
	r.next++
	l.id = r.next
	r.byID[l.id] = l
	if l.node == nil {
		r.window[l.typ] = append(r.window[l.typ], l)
		return l.id
	}
	types, ok := r.byNode[l.node]
	if !ok {
		types = make(map[string][]*listener)
		r.byNode[l.node] = types
	}
	types[l.typ] = append(types[l.typ], l)
	return l.id
}

func (r *eventRegistry) remove(id ListenerID) {
	l, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	l.removed = true
	filter := func(list []*listener) []*listener {
		out := list[:0:0]
		for _, x := range list {
			if x != l {
				out = append(out, x)
			}
		}
		return out
	}
	if l.node == nil {
		r.window[l.typ] = filter(r.window[l.typ])
		return
	}
	if types, ok := r.byNode[l.node]; ok {
		types[l.typ] = filter(types[l.typ])
		if len(types[l.typ]) == 0 {
			delete(types, l.typ)
		}
		if len(types) == 0 {
			delete(r.byNode, l.node)
		}
	}
}

// dropNode removes every listener registered on n.
func (r *eventRegistry) dropNode(n *html.Node) {
	types, ok := r.byNode[n]
	if !ok {
		return
	}
	delete(r.byNode, n)
	for _, list := range types {
		for _, l := range list {
			l.removed = true
			delete(r.byID, l.id)
		}
	}
}

// AddEventListener registers fn for typ events reaching n.
func (d *Document) AddEventListener(n *html.Node, typ string, fn Listener) ListenerID {
	return d.events.add(&listener{node: n, typ: typ, fn: fn})
}

// AddOnceListener registers fn for the first typ event reaching n only.
func (d *Document) AddOnceListener(n *html.Node, typ string, fn Listener) ListenerID {
	return d.events.add(&listener{node: n, typ: typ, fn: fn, once: true})
}

// AddWindowListener registers a window-level listener (scroll, resize).
func (d *Document) AddWindowListener(typ string, fn Listener) ListenerID {
	return d.events.add(&listener{typ: typ, fn: fn})
}

// RemoveEventListener removes a registration. Unknown IDs are ignored.
func (d *Document) RemoveEventListener(id ListenerID) {
	d.events.remove(id)
}

// ListenerCount reports live registrations, for leak checks.
func (d *Document) ListenerCount() int {
	return len(d.events.byID)
}

// Dispatch runs listeners on the target and, for bubbling events, its
// ancestors. Returns false when the default action was prevented.
func (d *Document) Dispatch(target *html.Node, ev *Event) bool {
	ev.Target = target
	for n := target; n != nil; n = n.Parent {
		types, ok := d.events.byNode[n]
		if ok {
			ev.CurrentTarget = n
			d.invoke(append([]*listener(nil), types[ev.Type]...), ev)
		}
		if ev.stopped || !ev.Bubbles {
			break
		}
	}
	return !ev.defaultPrevented
}

// DispatchWindow runs window listeners for ev.
func (d *Document) DispatchWindow(ev *Event) {
	ev.Target, ev.CurrentTarget = nil, nil
	d.invoke(append([]*listener(nil), d.events.window[ev.Type]...), ev)
}

func (d *Document) invoke(list []*listener, ev *Event) {
	for _, l := range list {
		if l.removed {
			continue
		}
		if l.once {
			d.events.remove(l.id)
		}
		d.call(l, ev)
	}
}

func (d *Document) call(l *listener, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered from panic in event listener.", zap.String("event", ev.Type), zap.Any("panic", r))
		}
	}()
	l.fn(ev)
}

// Click dispatches a bubbling click at n's visual center.
func (d *Document) Click(n *html.Node) bool {
	r := d.BoundingRect(n)
	x, y := r.Center()
	return d.Dispatch(n, &Event{Type: "click", Bubbles: true, ClientX: x, ClientY: y})
}

// ClickAt hit tests a viewport point and clicks the element found there.
func (d *Document) ClickAt(x, y float64) *html.Node {
	n := d.ElementFromPoint(x, y)
	if n != nil {
		d.Dispatch(n, &Event{Type: "click", Bubbles: true, ClientX: x, ClientY: y})
	}
	return n
}

// Hover dispatches mouseenter (entering true) or mouseleave on n. These
// events do not bubble.
func (d *Document) Hover(n *html.Node, entering bool) {
	typ := "mouseleave"
	if entering {
		typ = "mouseenter"
	}
	d.Dispatch(n, &Event{Type: typ})
}

// -- Scrolling and Viewport --

// ScrollTo moves the viewport and dispatches a window scroll event as a task.
func (d *Document) ScrollTo(x, y float64) {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x == d.scrollX && y == d.scrollY {
		return
	}
	d.scrollX, d.scrollY = x, y
	d.loop.Post(func() {
		d.DispatchWindow(&Event{Type: "scroll"})
	})
}

// ScrollBy is ScrollTo relative to the current offset.
func (d *Document) ScrollBy(dx, dy float64) {
	d.ScrollTo(d.scrollX+dx, d.scrollY+dy)
}

// Scroll returns the scroll offset.
func (d *Document) Scroll() (float64, float64) { return d.scrollX, d.scrollY }

// Viewport returns the viewport size.
func (d *Document) Viewport() (float64, float64) { return d.viewportWidth, d.viewportHeight }

// SetViewport resizes the viewport and dispatches resize as a task.
func (d *Document) SetViewport(w, h float64) {
	if w == d.viewportWidth && h == d.viewportHeight {
		return
	}
	d.viewportWidth, d.viewportHeight = w, h
	d.touch()
	d.loop.Post(func() {
		d.DispatchWindow(&Event{Type: "resize"})
	})
}
