// Package feasibility decides whether a single hop leaves the vehicle enough
// energy to get back to the ground station from the target.
package feasibility

import (
	"errors"
	"fmt"

	"github.com/hydrodrone/mission/internal/cache"
	"github.com/hydrodrone/mission/internal/geo"
)

var ErrInvalidEfficiency = errors.New("travel efficiency must be positive")

// Verdict carries the figures behind a feasibility decision.
type Verdict struct {
	Feasible         bool    `json:"feasible"`
	DistanceToTarget float64 `json:"distanceToTarget"`
	FromCache        bool    `json:"fromCache"`
	BatteryAtTarget  float64 `json:"batteryAtTarget"`
	RangeAtTarget    float64 `json:"rangeAtTarget"`
	TargetToBase     float64 `json:"targetToBase"`
}

// Oracle evaluates one hop at a time. It never looks past the target.
type Oracle struct {
	Table         *cache.DistanceTable
	GroundStation geo.Position
}

// New creates an oracle over a planned distance table. table may be nil.
func New(table *cache.DistanceTable, groundStation geo.Position) *Oracle {
	return &Oracle{Table: table, GroundStation: groundStation}
}

// Assess computes the verdict for flying from current to target with the
// given battery percentage and efficiency in distance units per percent.
func (o *Oracle) Assess(current, target geo.Waypoint, battery, efficiency float64) (Verdict, error) {
	if efficiency <= 0 {
		return Verdict{}, fmt.Errorf("%w: %v", ErrInvalidEfficiency, efficiency)
	}

	var v Verdict
	// the fixed mission points are never table entries
	if o.Table != nil && !geo.Reserved(current.Name) && !geo.Reserved(target.Name) {
		v.DistanceToTarget, v.FromCache = o.Table.Lookup(current.Name, target.Name)
	}
	if !v.FromCache {
		d, err := geo.Distance(current.Position, target.Position)
		if err != nil {
			return Verdict{}, fmt.Errorf("distance to %s: %w", target.Name, err)
		}
		v.DistanceToTarget = d
	}

	toBase, err := geo.Distance(target.Position, o.GroundStation)
	if err != nil {
		return Verdict{}, fmt.Errorf("distance from %s to ground station: %w", target.Name, err)
	}
	v.TargetToBase = toBase

	v.BatteryAtTarget = battery - v.DistanceToTarget/efficiency
	v.RangeAtTarget = v.BatteryAtTarget * efficiency
	v.Feasible = v.RangeAtTarget > v.TargetToBase
	return v, nil
}

// Feasible reports whether the hop from current to target is safe.
func (o *Oracle) Feasible(current, target geo.Waypoint, battery, efficiency float64) (bool, error) {
	v, err := o.Assess(current, target, battery, efficiency)
	if err != nil {
		return false, err
	}
	return v.Feasible, nil
}
