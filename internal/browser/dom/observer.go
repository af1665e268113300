// internal/browser/dom/observer.go
package dom

import (
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// MutationType distinguishes child list and attribute records.
type MutationType int

const (
	ChildList MutationType = iota
	Attributes
)

func (t MutationType) String() string {
	if t == Attributes {
		return "attributes"
	}
	return "childList"
}

// MutationRecord describes one change.
type MutationRecord struct {
	Type          MutationType
	Target        *html.Node
	Added         []*html.Node
	Removed       []*html.Node
	AttributeName string
	OldValue      string
}

// ObserveOptions selects which changes an observer receives.
type ObserveOptions struct {
	ChildList  bool
	Attributes bool
	Subtree    bool
	// AttributeFilter limits attribute records to these names when non-empty.
	AttributeFilter []string
}

type observation struct {
	target *html.Node
	opts   ObserveOptions
}

// MutationObserver batches matching records and delivers each batch in a
// single loop task, in observation order.
type MutationObserver struct {
	doc          *Document
	callback     func([]MutationRecord)
	observations []observation
	pending      []MutationRecord
	scheduled    bool
	disconnected bool
}

// NewMutationObserver creates an observer; it receives nothing until Observe.
func (d *Document) NewMutationObserver(callback func([]MutationRecord)) *MutationObserver {
	return &MutationObserver{doc: d, callback: callback}
}

// Observe starts or replaces observation of target.
func (o *MutationObserver) Observe(target *html.Node, opts ObserveOptions) {
	o.disconnected = false
	for i := range o.observations {
		if o.observations[i].target == target {
			o.observations[i].opts = opts
			return
		}
	}
	o.observations = append(o.observations, observation{target: target, opts: opts})
	for _, existing := range o.doc.observers {
		if existing == o {
			return
		}
	}
	o.doc.observers = append(o.doc.observers, o)
}

// Disconnect stops delivery, including of records already queued.
func (o *MutationObserver) Disconnect() {
	o.disconnected = true
	o.observations = nil
	o.pending = nil
	kept := o.doc.observers[:0]
	for _, existing := range o.doc.observers {
		if existing != o {
			kept = append(kept, existing)
		}
	}
	o.doc.observers = kept
}

// TakeRecords empties and returns the undelivered queue.
func (o *MutationObserver) TakeRecords() []MutationRecord {
	out := o.pending
	o.pending = nil
	return out
}

func (o *MutationObserver) interested(rec MutationRecord) bool {
	for _, obs := range o.observations {
		if rec.Target != obs.target && !(obs.opts.Subtree && Contains(obs.target, rec.Target)) {
			continue
		}
		switch rec.Type {
		case ChildList:
			if obs.opts.ChildList {
				return true
			}
		case Attributes:
			if !obs.opts.Attributes {
				continue
			}
			if len(obs.opts.AttributeFilter) == 0 || containsString(obs.opts.AttributeFilter, rec.AttributeName) {
				return true
			}
		}
	}
	return false
}

func (d *Document) notify(rec MutationRecord) {
	for _, o := range d.observers {
		if o.disconnected || !o.interested(rec) {
			continue
		}
		o.pending = append(o.pending, rec)
		if !o.scheduled {
			o.scheduled = true
			d.loop.Post(o.deliver)
		}
	}
}

func (o *MutationObserver) deliver() {
	o.scheduled = false
	records := o.pending
	o.pending = nil
	if o.disconnected || len(records) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.doc.logger.Error("Recovered from panic in mutation observer callback.", zap.Any("panic", r))
		}
	}()
	o.callback(records)
}
