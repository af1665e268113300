package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/depthlens/internal/browser/loop"
)

func newTestLoop(t *testing.T) *loop.Loop {
	l := loop.New(zaptest.NewLogger(t), loop.NewManualClock(time.Unix(0, 0)))
	t.Cleanup(l.Close)
	return l
}

func TestDebouncerRestartsWindow(t *testing.T) {
	l := newTestLoop(t)
	calls := 0
	d := newDebouncer(l, 200*time.Millisecond, func() { calls++ })

	d.Poke()
	l.Advance(150 * time.Millisecond)
	d.Poke()
	l.Advance(150 * time.Millisecond)
	assert.Equal(t, 0, calls)
	assert.True(t, d.Pending())

	l.Advance(50 * time.Millisecond)
	assert.Equal(t, 1, calls)
	assert.False(t, d.Pending())
	assert.Equal(t, 0, l.PendingTimers())
}

func TestDebouncerFlushAndStop(t *testing.T) {
	l := newTestLoop(t)
	calls := 0
	d := newDebouncer(l, time.Second, func() { calls++ })

	d.Flush()
	assert.Equal(t, 0, calls, "nothing pending")

	d.Poke()
	d.Flush()
	assert.Equal(t, 1, calls)
	l.Advance(2 * time.Second)
	assert.Equal(t, 1, calls, "flush cancels the timer")

	d.Poke()
	d.Stop()
	l.Advance(2 * time.Second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, l.PendingTimers())
}
