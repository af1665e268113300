// internal/augment/core/record.go
package core

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/browser/dom"
)

// InjectionRecord is the per-image augmentation state. Nodes are references
// into the live document; the state machine is enforced by the transition
// methods.
type InjectionRecord struct {
	ID       string
	Node     dom.NodeID
	Image    *html.Node
	Source   string
	Strategy Strategy
	// Container is the wrapper (wrap) or the overlay host (overlay).
	Container *html.Node
	// Overlay is the inert layer for the overlay strategy, nil for wrap.
	Overlay *html.Node
	Zone    *html.Node
	Surface *html.Node
	Layout  LayoutClassification
	Created time.Time

	// Viewer is the collaborator handle while a viewer is attached.
	Viewer any

	state    State
	failure  *ConversionFailure
	artifact string
	attempts int
	seq      uint64
	undo     []func()
	timers   map[string]func()
}

// NewRecord creates an idle record for an image.
func NewRecord(id dom.NodeID, img *html.Node, source string, strategy Strategy, now time.Time) *InjectionRecord {
	return &InjectionRecord{
		ID:       uuid.NewString(),
		Node:     id,
		Image:    img,
		Source:   source,
		Strategy: strategy,
		Created:  now,
	}
}

func (r *InjectionRecord) State() State { return r.state }

// Failure returns the last classified failure while in the error state.
func (r *InjectionRecord) Failure() *ConversionFailure { return r.failure }

// Artifact returns the artifact handle; set iff the record is ready.
func (r *InjectionRecord) Artifact() (string, bool) {
	return r.artifact, r.state == StateReady
}

// Attempts counts idle->processing transitions.
func (r *InjectionRecord) Attempts() int { return r.attempts }

func (r *InjectionRecord) move(from, to State) error {
	if r.state != from {
		return &TransitionError{From: r.state, To: to}
	}
	r.state = to
	return nil
}

// Begin moves idle -> processing.
func (r *InjectionRecord) Begin() error {
	if err := r.move(StateIdle, StateProcessing); err != nil {
		return err
	}
	r.attempts++
	return nil
}

// Succeed moves processing -> ready and stores the artifact.
func (r *InjectionRecord) Succeed(artifact string) error {
	if err := r.move(StateProcessing, StateReady); err != nil {
		return err
	}
	r.artifact = artifact
	r.failure = nil
	return nil
}

// Fail moves processing -> error.
func (r *InjectionRecord) Fail(f *ConversionFailure) error {
	if err := r.move(StateProcessing, StateError); err != nil {
		return err
	}
	r.failure = f
	return nil
}

// Retry moves error -> idle.
func (r *InjectionRecord) Retry() error {
	if err := r.move(StateError, StateIdle); err != nil {
		return err
	}
	r.failure = nil
	return nil
}

// ExternalReset moves ready -> idle and drops the artifact.
func (r *InjectionRecord) ExternalReset() error {
	if err := r.move(StateReady, StateIdle); err != nil {
		return err
	}
	r.artifact = ""
	return nil
}

// OnDetach registers a reversal step. Steps run in reverse order.
func (r *InjectionRecord) OnDetach(fn func()) {
	r.undo = append(r.undo, fn)
}

// RunDetach runs and clears every reversal step.
func (r *InjectionRecord) RunDetach() {
	steps := r.undo
	r.undo = nil
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// SetTimer remembers a cancel function under a name, cancelling any previous
// one with the same name.
func (r *InjectionRecord) SetTimer(name string, cancel func()) {
	if r.timers == nil {
		r.timers = make(map[string]func())
	}
	if prev, ok := r.timers[name]; ok {
		prev()
	}
	r.timers[name] = cancel
}

// ClearTimer cancels and forgets a named timer.
func (r *InjectionRecord) ClearTimer(name string) {
	if cancel, ok := r.timers[name]; ok {
		cancel()
		delete(r.timers, name)
	}
}

// CancelTimers cancels every named timer.
func (r *InjectionRecord) CancelTimers() {
	for name, cancel := range r.timers {
		cancel()
		delete(r.timers, name)
	}
}

// -- Tracking Table --

// TrackingTable maps image identity to its record, with a source index for
// ready-artifact lookups. Loop-owned.
type TrackingTable struct {
	byNode   map[dom.NodeID]*InjectionRecord
	bySource map[string]map[dom.NodeID]struct{}
	seq      uint64
}

func NewTrackingTable() *TrackingTable {
	return &TrackingTable{
		byNode:   make(map[dom.NodeID]*InjectionRecord),
		bySource: make(map[string]map[dom.NodeID]struct{}),
	}
}

// Put inserts or replaces the record for r.Node.
func (t *TrackingTable) Put(r *InjectionRecord) {
	if old, ok := t.byNode[r.Node]; ok {
		t.unindex(old)
	}
	t.seq++
	r.seq = t.seq
	t.byNode[r.Node] = r
	set, ok := t.bySource[r.Source]
	if !ok {
		set = make(map[dom.NodeID]struct{})
		t.bySource[r.Source] = set
	}
	set[r.Node] = struct{}{}
}

func (t *TrackingTable) unindex(r *InjectionRecord) {
	if set, ok := t.bySource[r.Source]; ok {
		delete(set, r.Node)
		if len(set) == 0 {
			delete(t.bySource, r.Source)
		}
	}
}

// Get returns the record for id.
func (t *TrackingTable) Get(id dom.NodeID) (*InjectionRecord, bool) {
	r, ok := t.byNode[id]
	return r, ok
}

// Has reports tracking.
func (t *TrackingTable) Has(id dom.NodeID) bool {
	_, ok := t.byNode[id]
	return ok
}

// Remove drops the record for id and returns it.
func (t *TrackingTable) Remove(id dom.NodeID) (*InjectionRecord, bool) {
	r, ok := t.byNode[id]
	if !ok {
		return nil, false
	}
	delete(t.byNode, id)
	t.unindex(r)
	return r, true
}

// Reindex moves a record to a new source key after its image changed src.
func (t *TrackingTable) Reindex(r *InjectionRecord, source string) {
	t.unindex(r)
	r.Source = source
	set, ok := t.bySource[source]
	if !ok {
		set = make(map[dom.NodeID]struct{})
		t.bySource[source] = set
	}
	set[r.Node] = struct{}{}
}

func (t *TrackingTable) Len() int { return len(t.byNode) }

// Records returns every record in insertion order.
func (t *TrackingTable) Records() []*InjectionRecord {
	out := make([]*InjectionRecord, 0, len(t.byNode))
	for _, r := range t.byNode {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// ReadyArtifact answers whether any record for source holds a ready artifact.
func (t *TrackingTable) ReadyArtifact(source string) (string, bool) {
	for id := range t.bySource[source] {
		if a, ok := t.byNode[id].Artifact(); ok {
			return a, true
		}
	}
	return "", false
}
