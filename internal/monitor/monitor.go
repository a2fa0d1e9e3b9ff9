// Package monitor writes a periodic status file for the running mission.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hydrodrone/mission/internal/mission"
)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Mission *mission.Context
	// Pending reports the queued storage writes. Optional.
	Pending  func() (events, samples int)
	Path     string
	Interval time.Duration
	Logger   *slog.Logger
}

// Status is one status file snapshot.
type Status struct {
	Time           time.Time `json:"time"`
	RunID          string    `json:"runId"`
	State          string    `json:"state"`
	Charging       bool      `json:"charging"`
	Battery        float64   `json:"battery"`
	Visited        int       `json:"visited"`
	Remaining      int       `json:"remaining"`
	Target         string    `json:"target,omitempty"`
	PendingEvents  int       `json:"pendingEvents"`
	PendingSamples int       `json:"pendingSamples"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current mission status.
func (s *Service) GetStatus() Status {
	snap := s.deps.Mission.Get()
	st := Status{
		Time:      time.Now().UTC(),
		RunID:     snap.RunID,
		State:     snap.State.String(),
		Charging:  snap.Charging,
		Battery:   snap.Battery,
		Visited:   snap.Visited,
		Remaining: snap.Remaining,
		Target:    snap.Target,
	}
	if s.deps.Pending != nil {
		st.PendingEvents, st.PendingSamples = s.deps.Pending()
	}
	return st
}

// Write replaces the status file content with the current status.
func (s *Service) Write(f *os.File) error {
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate status file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek status file: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}

	statusFile, err := os.Create(s.deps.Path)
	if err != nil {
		return fmt.Errorf("create status file: %w", err)
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer statusFile.Close()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "path", s.deps.Path, "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				if err := s.Write(statusFile); err != nil {
					logger.Error("Error writing final status", "error", err)
				}
				return
			case <-ticker.C:
				if s.deps.Mission.Get().RunID == "" {
					continue
				}
				if err := s.Write(statusFile); err != nil {
					logger.Error("Error writing status", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the final write.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.isRunning {
		close(s.stopChan)
		s.isRunning = false
	}
	s.mu.Unlock()
	s.wg.Wait()
}
