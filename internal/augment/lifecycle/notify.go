// internal/augment/lifecycle/notify.go
package lifecycle

import (
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/loop"
)

// Notifier renders user notifications into the document: transient toasts
// that dismiss themselves and one persistent notice at a time. Loop-owned.
type Notifier struct {
	ctx    *core.Context
	logger *zap.Logger
	toasts map[*html.Node]loop.TimerID

	notice         *html.Node
	noticeListener dom.ListenerID
}

func NewNotifier(ctx *core.Context) *Notifier {
	return &Notifier{
		ctx:    ctx,
		logger: ctx.Logger.Named("notifier"),
		toasts: make(map[*html.Node]loop.TimerID),
	}
}

func (n *Notifier) element(tag, class string) *html.Node {
	el := n.ctx.Doc.CreateElement(tag)
	el.Attr = append(el.Attr,
		html.Attribute{Key: "class", Val: class},
		html.Attribute{Key: core.AttrGenerated, Val: "true"},
	)
	return el
}

// Toast shows msg for the policy's toast duration.
func (n *Notifier) Toast(msg string) {
	doc := n.ctx.Doc
	body := doc.Body()
	if body == nil {
		return
	}
	el := n.element("div", core.ClassToast)
	el.Attr = append(el.Attr, html.Attribute{Key: "role", Val: "status"})
	doc.SetStyle(el, "position", "fixed")
	doc.SetStyle(el, "right", "16px")
	doc.SetStyle(el, "bottom", px(16+48*float64(len(n.toasts))))
	doc.SetStyle(el, "z-index", "2147483001")
	doc.SetText(el, msg)
	doc.AppendChild(body, el)

	n.toasts[el] = n.ctx.Loop.SetTimeout(n.ctx.Policy.ToastDuration, func() {
		delete(n.toasts, el)
		doc.Remove(el)
	})
	n.logger.Debug("Toast shown.", zap.String("message", msg))
}

// Toasts returns the visible toast nodes.
func (n *Notifier) Toasts() []*html.Node {
	out := make([]*html.Node, 0, len(n.toasts))
	for el := range n.toasts {
		out = append(out, el)
	}
	return out
}

// Notice shows a persistent notice with a dismiss button, replacing any
// notice already shown.
func (n *Notifier) Notice(title, text string) {
	doc := n.ctx.Doc
	body := doc.Body()
	if body == nil {
		return
	}
	n.dismiss()

	el := n.element("div", core.ClassNotice)
	el.Attr = append(el.Attr, html.Attribute{Key: "role", Val: "dialog"})
	doc.SetStyle(el, "position", "fixed")
	doc.SetStyle(el, "left", "16px")
	doc.SetStyle(el, "bottom", "16px")
	doc.SetStyle(el, "max-width", "360px")
	doc.SetStyle(el, "z-index", "2147483002")

	heading := n.element("strong", core.ClassNotice+"-title")
	doc.SetText(heading, title)
	para := n.element("p", core.ClassNotice+"-text")
	doc.SetText(para, text)
	button := n.element("button", core.ClassNotice+"-dismiss")
	button.Attr = append(button.Attr, html.Attribute{Key: "type", Val: "button"})
	doc.SetText(button, "Got it")

	doc.AppendChild(el, heading)
	doc.AppendChild(el, para)
	doc.AppendChild(el, button)
	doc.AppendChild(body, el)

	n.notice = el
	n.noticeListener = doc.AddEventListener(button, "click", func(ev *dom.Event) {
		ev.StopPropagation()
		ev.PreventDefault()
		n.dismiss()
	})
	n.logger.Info("Notice shown.", zap.String("title", title))
}

// NoticeNode returns the visible notice, or nil.
func (n *Notifier) NoticeNode() *html.Node { return n.notice }

func (n *Notifier) dismiss() {
	if n.notice == nil {
		return
	}
	n.ctx.Doc.RemoveEventListener(n.noticeListener)
	n.ctx.Doc.Remove(n.notice)
	n.notice = nil
}

// Clear removes every notification and cancels their timers.
func (n *Notifier) Clear() {
	for el, id := range n.toasts {
		n.ctx.Loop.ClearTimeout(id)
		n.ctx.Doc.Remove(el)
		delete(n.toasts, el)
	}
	n.dismiss()
}

func px(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) + "px" }
