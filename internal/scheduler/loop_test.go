package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFakeLoop() (*Loop, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(epoch)
	return New(clock, nil), clock
}

func TestLoop_AfterRunsAtDueTime(t *testing.T) {
	l, clock := newFakeLoop()

	var ranAt time.Time
	l.After(2*time.Second, "task", func() { ranAt = clock.Now() })

	assert.Equal(t, 0, l.Advance(1999*time.Millisecond))
	assert.True(t, ranAt.IsZero())

	assert.Equal(t, 1, l.Advance(time.Millisecond))
	assert.Equal(t, epoch.Add(2*time.Second), ranAt)
}

func TestLoop_OrderByDueThenFIFO(t *testing.T) {
	l, _ := newFakeLoop()

	var order []string
	l.After(2*time.Second, "c", func() { order = append(order, "c") })
	l.After(time.Second, "a", func() { order = append(order, "a") })
	l.After(time.Second, "b", func() { order = append(order, "b") })
	l.Post("now", func() { order = append(order, "now") })

	l.Advance(5 * time.Second)

	assert.Equal(t, []string{"now", "a", "b", "c"}, order)
}

func TestLoop_TasksScheduledFromCallbacks(t *testing.T) {
	l, clock := newFakeLoop()

	var times []time.Duration
	var step func()
	step = func() {
		times = append(times, clock.Now().Sub(epoch))
		if len(times) < 3 {
			l.After(time.Second, "step", step)
		}
	}
	l.Post("step", step)

	l.Advance(10 * time.Second)

	assert.Equal(t, []time.Duration{0, time.Second, 2 * time.Second}, times)
	assert.Equal(t, epoch.Add(10*time.Second), clock.Now())
}

func TestLoop_Every(t *testing.T) {
	l, _ := newFakeLoop()

	var n int
	h := l.Every(10*time.Second, "tick", func() { n++ })

	l.Advance(35 * time.Second)
	assert.Equal(t, 3, n)
	assert.True(t, h.Pending())

	assert.True(t, h.Cancel())
	l.Advance(30 * time.Second)
	assert.Equal(t, 3, n)
	assert.False(t, h.Pending())
}

func TestLoop_EveryCancelledFromOwnCallback(t *testing.T) {
	l, _ := newFakeLoop()

	var n int
	var h *Handle
	h = l.Every(time.Second, "tick", func() {
		n++
		if n == 2 {
			h.Cancel()
		}
	})

	l.Advance(10 * time.Second)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, l.Pending())
}

func TestLoop_EveryRejectsNonPositive(t *testing.T) {
	l, _ := newFakeLoop()
	assert.Panics(t, func() { l.Every(0, "bad", func() {}) })
}

func TestHandle_Cancel(t *testing.T) {
	l, _ := newFakeLoop()

	ran := false
	h := l.After(time.Second, "task", func() { ran = true })

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel(), "second cancel is a no-op")

	l.Advance(2 * time.Second)
	assert.False(t, ran)
	assert.Equal(t, 0, l.Pending())

	var nilHandle *Handle
	assert.False(t, nilHandle.Cancel())
	assert.False(t, nilHandle.Pending())
}

func TestHandle_CancelAfterRun(t *testing.T) {
	l, _ := newFakeLoop()

	h := l.After(time.Second, "task", func() {})
	l.Advance(time.Second)

	assert.False(t, h.Pending())
	assert.False(t, h.Cancel())
}

func TestLoop_PanicInTaskIsContained(t *testing.T) {
	l, _ := newFakeLoop()

	ran := false
	l.Post("boom", func() { panic("boom") })
	l.Post("after", func() { ran = true })

	assert.NotPanics(t, func() { l.Advance(0) })
	assert.True(t, ran)
}

func TestLoop_AdvanceRequiresFakeClock(t *testing.T) {
	l := New(nil, nil)
	assert.Panics(t, func() { l.Advance(time.Second) })
}

func TestLoop_RunDue(t *testing.T) {
	l, clock := newFakeLoop()

	var n int
	l.Post("a", func() { n++ })
	l.After(time.Second, "b", func() { n++ })

	assert.Equal(t, 1, l.RunDue())
	clock.Advance(time.Second)
	assert.Equal(t, 1, l.RunDue())
	assert.Equal(t, 2, n)
}

func TestLoop_RunRealClock(t *testing.T) {
	l := New(clockwork.NewRealClock(), nil)

	var n atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	l.After(10*time.Millisecond, "a", func() { n.Add(1); wg.Done() })
	l.After(20*time.Millisecond, "b", func() { n.Add(1); wg.Done() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	wg.Wait()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, int32(2), n.Load())
}

func TestLoop_PostFromOtherGoroutineWakesRun(t *testing.T) {
	l := New(clockwork.NewRealClock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	done := make(chan struct{})
	time.Sleep(10 * time.Millisecond)
	l.Post("wake", func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("posted task did not run")
	}
}

func TestLoop_RunWaitsOnClockTimer(t *testing.T) {
	l, clock := newFakeLoop()

	ran := make(chan time.Time, 1)
	l.After(time.Minute, "late", func() { ran <- clock.Now() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1), "Run arms one timer")

	select {
	case <-ran:
		t.Fatal("task ran before its due time")
	default:
	}

	clock.Advance(time.Minute)
	select {
	case at := <-ran:
		assert.Equal(t, epoch.Add(time.Minute), at)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run after the clock moved")
	}
}

func TestLoop_AdvanceLandsOnTarget(t *testing.T) {
	l, clock := newFakeLoop()

	var seen []time.Time
	l.After(300*time.Millisecond, "a", func() { seen = append(seen, clock.Now()) })
	l.After(time.Second, "b", func() { seen = append(seen, clock.Now()) })

	assert.Equal(t, 1, l.Advance(500*time.Millisecond))
	assert.Equal(t, []time.Time{epoch.Add(300 * time.Millisecond)}, seen)
	assert.Equal(t, epoch.Add(500*time.Millisecond), clock.Now())

	assert.Equal(t, 1, l.Advance(500*time.Millisecond))
	assert.Equal(t, epoch.Add(time.Second), clock.Now())
}
