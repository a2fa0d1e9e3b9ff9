// Package vehicle adapts the flight controller to the operations the mission
// needs.
package vehicle

import (
	"context"
	"errors"

	"github.com/hydrodrone/mission/internal/geo"
)

var (
	ErrNotConnected = errors.New("vehicle not connected")
	ErrNoPosition   = errors.New("no local position received yet")
	ErrUnknownMode  = errors.New("unknown flight mode")
)

// Adapter is the flight controller as seen by the mission.
type Adapter interface {
	Connect(ctx context.Context, endpoint string) error
	SetMode(ctx context.Context, mode string) error
	Arm(ctx context.Context) error
	Takeoff(ctx context.Context, altitude float64) error
	GlobalTarget(ctx context.Context, pos geo.Position) error
	GetLocalPosition(ctx context.Context) (geo.Position, error)
	IsNearWaypoint(pos, reference geo.Position, radius float64) bool
	ReturnToLaunch(ctx context.Context) error
	Close() error
}

// Near reports whether pos is within radius of reference. Positions of
// different dimension are never near.
func Near(pos, reference geo.Position, radius float64) bool {
	d, err := geo.Distance(pos, reference)
	if err != nil {
		return false
	}
	return d <= radius
}

// copterModes are the ArduCopter custom mode numbers.
var copterModes = map[string]uint32{
	"STABILIZE": 0,
	"ACRO":      1,
	"ALT_HOLD":  2,
	"AUTO":      3,
	"GUIDED":    4,
	"LOITER":    5,
	"RTL":       6,
	"CIRCLE":    7,
	"LAND":      9,
	"BRAKE":     17,
}

// ModeNumber returns the custom mode number of a mode name.
func ModeNumber(mode string) (uint32, bool) {
	n, ok := copterModes[mode]
	return n, ok
}
