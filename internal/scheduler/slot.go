package scheduler

import (
	"sync"
	"time"
)

// Slot holds at most one outstanding task. Scheduling into an occupied slot
// cancels the previous task before the new one is installed, and a task
// that lost its slot never runs even if it was already dequeued.
type Slot struct {
	mu  sync.Mutex
	h   *Handle
	gen uint64
}

// Schedule replaces the slot's task with fn, to run d from now on l.
func (s *Slot) Schedule(l *Loop, d time.Duration, name string, fn func()) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.h != nil {
		s.h.Cancel()
	}
	s.gen++
	gen := s.gen
	s.h = l.After(d, name, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.h = nil
		s.mu.Unlock()
		fn()
	})
	return s.h
}

// Cancel drops the slot's task. It reports whether one was pending.
func (s *Slot) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == nil {
		return false
	}
	s.gen++
	cancelled := s.h.Cancel()
	s.h = nil
	return cancelled
}

// Pending reports whether the slot holds a task that has not run yet.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h != nil && s.h.Pending()
}
