package mission

import (
	"log/slog"
	"sync"
)

// Snapshot is the sequencer state exposed to loggers and status readers.
type Snapshot struct {
	RunID     string
	State     State
	Charging  bool
	Battery   float64
	Visited   int
	Remaining int
	Target    string
}

// Context holds the latest mission snapshot. It is written from the
// scheduler goroutine and read from anywhere.
type Context struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewContext creates a Context with no run loaded.
func NewContext() *Context {
	return &Context{}
}

// Get returns the current snapshot.
func (mc *Context) Get() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.snap
}

// Set replaces the current snapshot.
func (mc *Context) Set(s Snapshot) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.snap = s
}

// Attrs returns the snapshot as log attributes, or nothing before a run is
// loaded. It satisfies logging.AttrSource.
func (mc *Context) Attrs() []slog.Attr {
	s := mc.Get()
	if s.RunID == "" {
		return nil
	}
	return []slog.Attr{
		slog.String("run", s.RunID),
		slog.String("state", s.State.String()),
		slog.Float64("battery", s.Battery),
	}
}
