// Package scheduler runs deferred and periodic callbacks one at a time on a
// single goroutine. Callbacks never overlap, so state owned by a component
// and touched only from its callbacks needs no further locking.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Handle identifies a scheduled task.
type Handle struct {
	loop      *Loop
	name      string
	due       time.Time
	every     time.Duration
	fn        func()
	seq       uint64
	index     int
	cancelled bool
}

// Name returns the task name given at scheduling time.
func (h *Handle) Name() string {
	return h.name
}

// Cancel stops the task from running again. It reports whether the task
// was still pending.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	l := h.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if h.cancelled {
		return false
	}
	h.cancelled = true
	if h.index >= 0 {
		heap.Remove(&l.tasks, h.index)
		return true
	}
	// periodic task currently running; it will not be re-armed
	return h.every > 0
}

// Pending reports whether the task will still run.
func (h *Handle) Pending() bool {
	if h == nil {
		return false
	}
	h.loop.mu.Lock()
	defer h.loop.mu.Unlock()
	return !h.cancelled && (h.index >= 0 || h.every > 0)
}

// Loop is a cooperative single-goroutine task scheduler.
type Loop struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	tasks  taskHeap
	seq    uint64
	wake   chan struct{}
	logger *slog.Logger
}

// New creates a loop on the given clock. A nil clock means wall time.
func New(clock clockwork.Clock, logger *slog.Logger) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		clock:  clock,
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Clock returns the loop's time source.
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// After runs fn once, d from now.
func (l *Loop) After(d time.Duration, name string, fn func()) *Handle {
	return l.schedule(d, 0, name, fn)
}

// Every runs fn every d, first d from now.
func (l *Loop) Every(d time.Duration, name string, fn func()) *Handle {
	if d <= 0 {
		panic(fmt.Sprintf("scheduler: non-positive interval for %q", name))
	}
	return l.schedule(d, d, name, fn)
}

// Post runs fn as soon as the loop is free.
func (l *Loop) Post(name string, fn func()) *Handle {
	return l.schedule(0, 0, name, fn)
}

func (l *Loop) schedule(d, every time.Duration, name string, fn func()) *Handle {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	l.seq++
	h := &Handle{
		loop:  l,
		name:  name,
		due:   l.clock.Now().Add(d),
		every: every,
		fn:    fn,
		seq:   l.seq,
	}
	heap.Push(&l.tasks, h)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return h
}

// Pending returns the number of scheduled tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// next pops the earliest task due at or before until.
func (l *Loop) next(until time.Time) *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 || l.tasks[0].due.After(until) {
		return nil
	}
	return heap.Pop(&l.tasks).(*Handle)
}

func (l *Loop) run(h *Handle) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Scheduled task panicked", "task", h.name, "panic", r)
		}
		l.rearm(h)
	}()
	h.fn()
}

func (l *Loop) rearm(h *Handle) {
	if h.every <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if h.cancelled {
		return
	}
	h.due = h.due.Add(h.every)
	l.seq++
	h.seq = l.seq
	heap.Push(&l.tasks, h)
}

// RunDue runs every task due at the current clock time, including tasks
// those callbacks schedule for now. It returns the number of tasks run.
func (l *Loop) RunDue() int {
	var n int
	for {
		h := l.next(l.clock.Now())
		if h == nil {
			return n
		}
		l.run(h)
		n++
	}
}

// fakeClock is the part of clockwork's fake clock that Advance drives.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// Advance steps a loop on a fake clock forward by d, moving the clock to
// each task's due time before running it. It returns the number of tasks run.
func (l *Loop) Advance(d time.Duration) int {
	fc, ok := l.clock.(fakeClock)
	if !ok {
		panic("scheduler: Advance requires a fake clock")
	}
	until := fc.Now().Add(d)
	var n int
	for {
		h := l.next(until)
		if h == nil {
			break
		}
		if step := h.due.Sub(fc.Now()); step > 0 {
			fc.Advance(step)
		}
		l.run(h)
		n++
	}
	if rest := until.Sub(fc.Now()); rest > 0 {
		fc.Advance(rest)
	}
	return n
}

// Run executes tasks as they fall due until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunDue()

		wait := time.Hour
		l.mu.Lock()
		if len(l.tasks) > 0 {
			wait = l.tasks[0].due.Sub(l.clock.Now())
		}
		l.mu.Unlock()
		if wait <= 0 {
			continue
		}

		timer := l.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-l.wake:
		case <-timer.Chan():
		}
		timer.Stop()
	}
}

type taskHeap []*Handle

func (q taskHeap) Len() int { return len(q) }

func (q taskHeap) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q taskHeap) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskHeap) Push(x any) {
	h := x.(*Handle)
	h.index = len(*q)
	*q = append(*q, h)
}

func (q *taskHeap) Pop() any {
	old := *q
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*q = old[:n-1]
	return h
}
