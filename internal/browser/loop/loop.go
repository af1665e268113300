// internal/browser/loop/loop.go
package loop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock supplies the loop's notion of time.
type Clock interface {
	Now() time.Time
}

// WallClock reads the system clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// ManualClock only moves when told to. Tests drive it through Loop.Advance.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock. Moving backwards is ignored.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// TimerID identifies a pending timeout. The zero value is never issued.
type TimerID uint64

type timer struct {
	id    TimerID
	when  time.Time
	seq   uint64
	fn    func()
	index int
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Loop is a single-threaded task runner: a FIFO queue of tasks plus a timer
// heap, both drained by whichever goroutine calls Run, RunUntil, RunPending or
// Advance. Post and SetTimeout are safe from any goroutine; everything the
// tasks themselves touch is owned by the loop goroutine.
type Loop struct {
	logger *zap.Logger
	clock  Clock

	mu     sync.Mutex
	queue  []func()
	timers timerHeap
	byID   map[TimerID]*timer
	nextID TimerID
	seq    uint64
	closed bool

	wake chan struct{}
	done chan struct{}
}

// New creates a loop. A nil clock selects the wall clock.
func New(logger *zap.Logger, clock Clock) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = WallClock{}
	}
	return &Loop{
		logger: logger.Named("loop"),
		clock:  clock,
		byID:   make(map[TimerID]*timer),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Now reports the loop clock.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Clock returns the loop clock.
func (l *Loop) Clock() Clock { return l.clock }

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Post queues fn behind every task already queued. Returns false once the
// loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

// SetTimeout schedules fn after d. Timers with equal deadlines fire in the
// order they were set. Returns 0 when the loop is closed.
func (l *Loop) SetTimeout(d time.Duration, fn func()) TimerID {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0
	}
	l.nextID++
	l.seq++
	t := &timer{id: l.nextID, when: l.clock.Now().Add(d), seq: l.seq, fn: fn}
	heap.Push(&l.timers, t)
	l.byID[t.id] = t
	l.mu.Unlock()
	l.signal()
	return t.id
}

// ClearTimeout cancels a pending timer. Unknown or fired IDs are ignored.
func (l *Loop) ClearTimeout(id TimerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.byID[id]
	if !ok {
		return
	}
	delete(l.byID, id)
	if t.index >= 0 {
		heap.Remove(&l.timers, t.index)
	}
}

// PendingTimers counts timers not yet fired or cleared.
func (l *Loop) PendingTimers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// PendingTasks counts queued tasks.
func (l *Loop) PendingTasks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// next pops one ready unit of work: a queued task first, else a due timer.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false
	}
	if len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		return fn, true
	}
	if len(l.timers) > 0 && !l.timers[0].when.After(l.clock.Now()) {
		t := heap.Pop(&l.timers).(*timer)
		delete(l.byID, t.id)
		return t.fn, true
	}
	return nil, false
}

func (l *Loop) nextDeadline() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	return l.timers[0].when, true
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered from panic in loop task.", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// RunPending runs queued tasks and due timers until none are ready, including
// work those tasks schedule. Returns how many ran.
func (l *Loop) RunPending() int {
	n := 0
	for {
		fn, ok := l.next()
		if !ok {
			return n
		}
		l.invoke(fn)
		n++
	}
}

// Advance moves a manual clock forward by d, firing every timer that falls
// due on the way at its own deadline. With any other clock it only runs
// pending work.
func (l *Loop) Advance(d time.Duration) {
	mc, ok := l.clock.(*ManualClock)
	if !ok {
		l.logger.Warn("Advance called on a loop without a manual clock.")
		l.RunPending()
		return
	}
	target := mc.Now().Add(d)
	for {
		l.RunPending()
		when, ok := l.nextDeadline()
		if !ok || when.After(target) {
			break
		}
		mc.Set(when)
	}
	mc.Set(target)
	l.RunPending()
}

// Run drains the loop until ctx is done or the loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	return l.RunUntil(ctx, nil)
}

// RunUntil drains the loop until cond reports true after a unit of work, ctx
// is done, or the loop is closed. With a manual clock an idle loop jumps
// straight to the next timer instead of sleeping.
func (l *Loop) RunUntil(ctx context.Context, cond func() bool) error {
	mc, manual := l.clock.(*ManualClock)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cond != nil && cond() {
			return nil
		}
		if fn, ok := l.next(); ok {
			l.invoke(fn)
			continue
		}
		if l.isClosed() {
			return nil
		}

		when, hasTimer := l.nextDeadline()
		if manual && hasTimer {
			mc.Set(when)
			continue
		}
		var timerC <-chan time.Time
		if hasTimer {
			t := time.NewTimer(time.Until(when))
			timerC = t.C
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-l.done:
				t.Stop()
				return nil
			case <-l.wake:
				t.Stop()
			case <-timerC:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close drops every queued task and timer and stops Run. Idempotent.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	l.timers = nil
	l.byID = make(map[TimerID]*timer)
	close(l.done)
}
