// internal/augment/core/context.go
package core

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/depthlens/internal/browser/dom"
	"github.com/xkilldash9x/depthlens/internal/browser/loop"
)

// Spawner runs background work off the loop goroutine.
type Spawner interface {
	Go(fn func())
	// Wait blocks until every spawned function returned.
	Wait()
}

type goroutineSpawner struct {
	wg sync.WaitGroup
}

// NewGoroutineSpawner runs each function in its own tracked goroutine.
func NewGoroutineSpawner() Spawner { return &goroutineSpawner{} }

func (s *goroutineSpawner) Go(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *goroutineSpawner) Wait() { s.wg.Wait() }

// InlineSpawner runs functions synchronously. Results are still posted to the
// loop, so ordering matches the goroutine spawner under a manual clock.
type InlineSpawner struct{}

func (InlineSpawner) Go(fn func()) { fn() }
func (InlineSpawner) Wait()        {}

// Stats counts engine activity. Fields are atomics so reports can read them
// off the loop goroutine.
type Stats struct {
	Scanned        atomic.Int64
	Rejected       atomic.Int64
	Injected       atomic.Int64
	Conflicts      atomic.Int64
	StaleRepaired  atomic.Int64
	Detached       atomic.Int64
	Duplicates     atomic.Int64
	Conversions    atomic.Int64
	Failures       atomic.Int64
	InFlightReject atomic.Int64
}

// StatsSnapshot is a plain copy of Stats.
type StatsSnapshot struct {
	Scanned        int64 `json:"scanned"`
	Rejected       int64 `json:"rejected"`
	Injected       int64 `json:"injected"`
	Conflicts      int64 `json:"conflicts"`
	StaleRepaired  int64 `json:"stale_repaired"`
	Detached       int64 `json:"detached"`
	Duplicates     int64 `json:"duplicates"`
	Conversions    int64 `json:"conversions"`
	Failures       int64 `json:"failures"`
	InFlightReject int64 `json:"in_flight_rejected"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Scanned:        s.Scanned.Load(),
		Rejected:       s.Rejected.Load(),
		Injected:       s.Injected.Load(),
		Conflicts:      s.Conflicts.Load(),
		StaleRepaired:  s.StaleRepaired.Load(),
		Detached:       s.Detached.Load(),
		Duplicates:     s.Duplicates.Load(),
		Conversions:    s.Conversions.Load(),
		Failures:       s.Failures.Load(),
		InFlightReject: s.InFlightReject.Load(),
	}
}

// Context is the state one engine instance shares with its components.
// Everything except Stats, Spawner and Done is loop-owned.
type Context struct {
	Doc     *dom.Document
	Loop    *loop.Loop
	Logger  *zap.Logger
	Policy  Policy
	Table   *TrackingTable
	Stats   *Stats
	Verbose bool

	inFlight map[dom.NodeID]struct{}
	spawner  Spawner
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewContext builds the shared context. A nil spawner uses goroutines.
func NewContext(parent context.Context, doc *dom.Document, logger *zap.Logger, policy Policy, spawner Spawner) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spawner == nil {
		spawner = NewGoroutineSpawner()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		Doc:      doc,
		Loop:     doc.Loop(),
		Logger:   logger,
		Policy:   policy,
		Table:    NewTrackingTable(),
		Stats:    &Stats{},
		inFlight: make(map[dom.NodeID]struct{}),
		spawner:  spawner,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ctx is cancelled on teardown. Background work derives its deadlines from it.
func (c *Context) Ctx() context.Context { return c.ctx }

// Closed reports whether teardown started.
func (c *Context) Closed() bool { return c.ctx.Err() != nil }

// Spawn runs fn off the loop.
func (c *Context) Spawn(fn func()) { c.spawner.Go(fn) }

// Shutdown cancels background work and waits for it.
func (c *Context) Shutdown() {
	c.cancel()
	c.spawner.Wait()
}

// Post hands a background result back to the loop, dropping it after
// teardown.
func (c *Context) Post(fn func()) {
	c.Loop.Post(func() {
		if c.Closed() {
			return
		}
		fn()
	})
}

// -- In-flight guard --

// Acquire claims id for one conversion. False means one is already running.
func (c *Context) Acquire(id dom.NodeID) bool {
	if _, busy := c.inFlight[id]; busy {
		return false
	}
	c.inFlight[id] = struct{}{}
	return true
}

// Release frees id.
func (c *Context) Release(id dom.NodeID) { delete(c.inFlight, id) }

// InFlight reports a running conversion for id.
func (c *Context) InFlight(id dom.NodeID) bool {
	_, ok := c.inFlight[id]
	return ok
}

// -- Ancestor search --

// NearestAncestor returns the closest element ancestor of n, at most depth
// levels up, for which pred holds. n itself is not considered.
func NearestAncestor(n *html.Node, depth int, pred func(*html.Node) bool) *html.Node {
	level := 0
	for p := dom.ParentElement(n); p != nil && level < depth; p = dom.ParentElement(p) {
		level++
		if pred(p) {
			return p
		}
	}
	return nil
}

// SelfOrAncestor is NearestAncestor that also tests n.
func SelfOrAncestor(n *html.Node, depth int, pred func(*html.Node) bool) *html.Node {
	if n != nil && n.Type == html.ElementNode && pred(n) {
		return n
	}
	return NearestAncestor(n, depth, pred)
}

// Ancestors returns up to depth element ancestors, nearest first.
func Ancestors(n *html.Node, depth int) []*html.Node {
	var out []*html.Node
	for p := dom.ParentElement(n); p != nil && len(out) < depth; p = dom.ParentElement(p) {
		out = append(out, p)
	}
	return out
}

// IsGenerated reports nodes the engine inserted.
func IsGenerated(n *html.Node) bool { return dom.HasAttr(n, AttrGenerated) }

// InsideGenerated reports n or any ancestor being engine output.
func InsideGenerated(n *html.Node) bool {
	for x := n; x != nil; x = x.Parent {
		if x.Type == html.ElementNode && IsGenerated(x) {
			return true
		}
	}
	return false
}
