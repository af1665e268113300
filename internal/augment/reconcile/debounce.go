// internal/augment/reconcile/debounce.go
package reconcile

import (
	"time"

	"github.com/xkilldash9x/depthlens/internal/browser/loop"
)

// debouncer runs fn once activity has been quiet for wait. Every Poke
// restarts the window. Loop-owned.
type debouncer struct {
	loop  *loop.Loop
	wait  time.Duration
	fn    func()
	timer loop.TimerID
	armed bool
}

func newDebouncer(l *loop.Loop, wait time.Duration, fn func()) *debouncer {
	return &debouncer{loop: l, wait: wait, fn: fn}
}

func (d *debouncer) Poke() {
	if d.armed {
		d.loop.ClearTimeout(d.timer)
	}
	d.armed = true
	d.timer = d.loop.SetTimeout(d.wait, d.fire)
}

func (d *debouncer) fire() {
	d.armed = false
	d.fn()
}

// Flush runs fn now if a call is pending.
func (d *debouncer) Flush() {
	if !d.armed {
		return
	}
	d.Stop()
	d.fn()
}

// Stop cancels a pending call.
func (d *debouncer) Stop() {
	if d.armed {
		d.loop.ClearTimeout(d.timer)
		d.armed = false
	}
}

// Pending reports an armed timer.
func (d *debouncer) Pending() bool { return d.armed }
