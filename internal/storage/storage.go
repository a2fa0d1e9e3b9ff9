// Package storage persists mission runs, their events and winch samples.
package storage

import (
	"time"

	"github.com/hydrodrone/mission/internal/model"
)

// RunEnd closes a mission run.
type RunEnd struct {
	ID        string
	EndedAt   time.Time
	Outcome   string
	Visited   uint
	Abandoned uint
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(r *model.MissionRun) error
	EndRun(e RunEnd) error

	// Recording
	RecordEvent(e *model.MissionEvent) error
	RecordMotorSample(s *model.MotorSample) error
}

// Nop discards everything. It is used when storage is disabled.
type Nop struct{}

func (Nop) Init() error                               { return nil }
func (Nop) Close() error                              { return nil }
func (Nop) StartRun(*model.MissionRun) error          { return nil }
func (Nop) EndRun(RunEnd) error                       { return nil }
func (Nop) RecordEvent(*model.MissionEvent) error     { return nil }
func (Nop) RecordMotorSample(*model.MotorSample) error { return nil }
