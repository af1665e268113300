package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newManualLoop(t *testing.T) *Loop {
	t.Helper()
	return New(zaptest.NewLogger(t), NewManualClock(epoch))
}

func TestPostIsFIFO(t *testing.T) {
	l := newManualLoop(t)
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Post(func() {
		l.Post(func() { got = append(got, 99) })
	})
	assert.Equal(t, 7, l.RunPending())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 99}, got)
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	l := newManualLoop(t)
	var got []string
	l.SetTimeout(300*time.Millisecond, func() { got = append(got, "c") })
	l.SetTimeout(100*time.Millisecond, func() { got = append(got, "a") })
	l.SetTimeout(100*time.Millisecond, func() { got = append(got, "b") })

	l.Advance(99 * time.Millisecond)
	assert.Empty(t, got)

	l.Advance(time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)

	l.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Zero(t, l.PendingTimers())
}

func TestAdvanceFiresTimersScheduledOnTheWay(t *testing.T) {
	l := newManualLoop(t)
	var fired []time.Duration
	l.SetTimeout(100*time.Millisecond, func() {
		fired = append(fired, l.Now().Sub(epoch))
		l.SetTimeout(100*time.Millisecond, func() {
			fired = append(fired, l.Now().Sub(epoch))
		})
	})
	l.Advance(250 * time.Millisecond)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, fired)
	assert.Equal(t, 250*time.Millisecond, l.Now().Sub(epoch))
}

func TestClearTimeout(t *testing.T) {
	l := newManualLoop(t)
	fired := false
	id := l.SetTimeout(50*time.Millisecond, func() { fired = true })
	require.NotZero(t, id)
	assert.Equal(t, 1, l.PendingTimers())

	l.ClearTimeout(id)
	l.ClearTimeout(id)
	l.ClearTimeout(12345)
	l.Advance(time.Second)
	assert.False(t, fired)
	assert.Zero(t, l.PendingTimers())
}

func TestPanicInTaskIsRecovered(t *testing.T) {
	l := newManualLoop(t)
	ran := false
	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })
	assert.NotPanics(t, func() { l.RunPending() })
	assert.True(t, ran)
}

func TestCloseDropsWork(t *testing.T) {
	l := newManualLoop(t)
	ran := false
	l.Post(func() { ran = true })
	l.SetTimeout(time.Millisecond, func() { ran = true })
	l.Close()
	l.Close()

	assert.False(t, l.Post(func() {}))
	assert.Zero(t, l.SetTimeout(time.Millisecond, func() {}))
	assert.Zero(t, l.RunPending())
	l.Advance(time.Second)
	assert.False(t, ran)
	assert.NoError(t, l.Run(context.Background()))
}

func TestRunUntilJumpsManualClock(t *testing.T) {
	l := newManualLoop(t)
	done := false
	l.SetTimeout(time.Hour, func() { done = true })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.RunUntil(ctx, func() bool { return done }))
	assert.Equal(t, time.Hour, l.Now().Sub(epoch))
}

func TestRunWithWallClock(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(zaptest.NewLogger(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	count := 0
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Post(func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	fired := make(chan struct{})
	l.SetTimeout(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	mu.Lock()
	assert.Equal(t, 10, count)
	mu.Unlock()
}

func TestCloseStopsRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(zaptest.NewLogger(t), nil)
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()
	l.SetTimeout(time.Hour, func() {})
	l.Close()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
