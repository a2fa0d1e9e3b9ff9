// Package telemetry derives shaft speed from successive angle readings.
package telemetry

import (
	"math"
	"sync"
	"time"
)

// AngleSample is one angle reading in radians, nominally in (-π, π].
type AngleSample struct {
	Angle float64
	Time  time.Time
}

// Unwrap folds an angle difference into (-π, π] with a single ±2π
// correction. Readings are assumed to wrap at most once between samples.
func Unwrap(delta float64) float64 {
	if delta > math.Pi {
		return delta - 2*math.Pi
	}
	if delta <= -math.Pi {
		return delta + 2*math.Pi
	}
	return delta
}

// RPM converts an angular velocity in rad/s to revolutions per minute.
func RPM(radPerSec float64) float64 {
	return radPerSec * 60 / (2 * math.Pi)
}

// Estimator keeps the last sample only.
type Estimator struct {
	mu   sync.Mutex
	prev *AngleSample
}

// Observe records s and returns the speed in RPM since the previous sample.
// ok is false for the first sample and when time has not moved forward.
func (e *Estimator) Observe(s AngleSample) (rpm float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.prev
	e.prev = &s
	if prev == nil {
		return 0, false
	}

	dt := s.Time.Sub(prev.Time).Seconds()
	if dt <= 0 {
		return 0, false
	}
	return RPM(Unwrap(s.Angle-prev.Angle) / dt), true
}

// Reset forgets the last sample.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prev = nil
}
