// Package route computes the exact minimum-cost cyclic visiting order over
// a small set of waypoints by enumerating every ordering.
package route

import (
	"errors"
	"fmt"
	"math"

	"github.com/hydrodrone/mission/internal/cache"
	"github.com/hydrodrone/mission/internal/geo"
	"gonum.org/v1/gonum/stat/combin"
)

// MaxWaypoints bounds n for the n! enumeration.
const MaxWaypoints = 10

var (
	ErrTooManyWaypoints  = fmt.Errorf("route planning supports at most %d waypoints", MaxWaypoints)
	ErrDuplicateWaypoint = errors.New("duplicate waypoint name")
)

// Plan is the outcome of route planning.
type Plan struct {
	Route []geo.Waypoint
	Cost  float64
	Table *cache.DistanceTable
}

// BuildTable computes the distance between every unordered pair of waypoints
// exactly once. Names must be unique and must not be reserved.
func BuildTable(wps []geo.Waypoint) (*cache.DistanceTable, error) {
	table := cache.NewDistanceTable()
	seen := make(map[string]struct{}, len(wps))
	for _, wp := range wps {
		if geo.Reserved(wp.Name) {
			return nil, fmt.Errorf("%w: %q", geo.ErrReservedName, wp.Name)
		}
		if _, ok := seen[wp.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateWaypoint, wp.Name)
		}
		seen[wp.Name] = struct{}{}
	}

	for i := 0; i < len(wps)-1; i++ {
		for j := i + 1; j < len(wps); j++ {
			d, err := geo.Distance(wps[i].Position, wps[j].Position)
			if err != nil {
				return nil, fmt.Errorf("distance %s to %s: %w", wps[i].Name, wps[j].Name, err)
			}
			table.Set(wps[i].Name, wps[j].Name, d)
		}
	}
	return table, nil
}

// TourCost is the length of the closed tour through order, including the
// leg from the last waypoint back to the first.
func TourCost(order []geo.Waypoint, table *cache.DistanceTable) float64 {
	var total float64
	n := len(order)
	for i := 0; i < n; i++ {
		total += legCost(order[i], order[(i+1)%n], table)
	}
	return total
}

func legCost(a, b geo.Waypoint, table *cache.DistanceTable) float64 {
	if a.Name == b.Name {
		return 0
	}
	if d, ok := table.Lookup(a.Name, b.Name); ok {
		return d
	}
	d, err := geo.Distance(a.Position, b.Position)
	if err != nil {
		return math.Inf(1)
	}
	return d
}

// Compute returns the ordering of wps with the smallest cyclic tour cost.
// Orderings are enumerated in a fixed sequence and only a strictly cheaper
// tour replaces the current best, so ties go to the first ordering found.
func Compute(wps []geo.Waypoint) (Plan, error) {
	if len(wps) > MaxWaypoints {
		return Plan{}, fmt.Errorf("%w: got %d", ErrTooManyWaypoints, len(wps))
	}

	table, err := BuildTable(wps)
	if err != nil {
		return Plan{}, err
	}

	n := len(wps)
	if n < 2 {
		out := make([]geo.Waypoint, n)
		copy(out, wps)
		return Plan{Route: out, Cost: 0, Table: table}, nil
	}

	best := math.Inf(1)
	var bestPerm []int

	order := make([]geo.Waypoint, n)
	perm := make([]int, n)
	gen := combin.NewPermutationGenerator(n, n)
	for gen.Next() {
		gen.Permutation(perm)
		for i, idx := range perm {
			order[i] = wps[idx]
		}
		cost := TourCost(order, table)
		if cost < best {
			best = cost
			bestPerm = append(bestPerm[:0], perm...)
		}
	}

	out := make([]geo.Waypoint, n)
	for i, idx := range bestPerm {
		out[i] = wps[idx]
	}
	return Plan{Route: out, Cost: best, Table: table}, nil
}
