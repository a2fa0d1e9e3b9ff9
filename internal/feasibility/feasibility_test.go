package feasibility

import (
	"math"
	"testing"

	"github.com/hydrodrone/mission/internal/cache"
	"github.com/hydrodrone/mission/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groundStation = geo.Position{0, 0, 0}

func wp(name string, x, y, z float64) geo.Waypoint {
	return geo.Waypoint{Name: name, Position: geo.Position{x, y, z}}
}

func TestFeasible_LowBatteryLongHop(t *testing.T) {
	o := New(nil, groundStation)
	current := wp("here", 0, 0, 0)
	target := wp("there", 30, 40, 0) // 50 away

	ok, err := o.Feasible(current, target, 5, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFeasible_FullBatteryShortHop(t *testing.T) {
	o := New(nil, groundStation)

	ok, err := o.Feasible(wp("a", 0, 0, 0), wp("b", 10, 0, 10), 100, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAssess_Figures(t *testing.T) {
	o := New(nil, groundStation)

	v, err := o.Assess(wp("a", 50, 50, 20), wp("b", 50, 10, 20), 60, 2)
	require.NoError(t, err)

	assert.InDelta(t, 40.0, v.DistanceToTarget, 1e-12)
	assert.InDelta(t, 40.0, v.BatteryAtTarget, 1e-12)
	assert.InDelta(t, 80.0, v.RangeAtTarget, 1e-12)
	assert.InDelta(t, math.Sqrt(3000), v.TargetToBase, 1e-9)
	assert.True(t, v.Feasible)
	assert.False(t, v.FromCache)
}

func TestAssess_BoundaryIsInfeasible(t *testing.T) {
	// range at target exactly equals the distance home
	o := New(nil, groundStation)

	v, err := o.Assess(wp("a", 20, 0, 0), wp("b", 10, 0, 0), 10, 2)
	require.NoError(t, err)
	assert.InDelta(t, v.TargetToBase, v.RangeAtTarget, 1e-12)
	assert.False(t, v.Feasible, "strictly greater range required")
}

func TestAssess_CacheAndFallbackAgree(t *testing.T) {
	a := wp("bucket_1", 10, 0, 10)
	b := wp("bucket_4", 6, 0, 66)

	table := cache.NewDistanceTable()
	d, err := geo.Distance(a.Position, b.Position)
	require.NoError(t, err)
	table.Set(a.Name, b.Name, d)

	cached, err := New(table, groundStation).Assess(b, a, 80, 2)
	require.NoError(t, err)
	direct, err := New(nil, groundStation).Assess(b, a, 80, 2)
	require.NoError(t, err)

	assert.True(t, cached.FromCache)
	assert.False(t, direct.FromCache)
	assert.Equal(t, direct.DistanceToTarget, cached.DistanceToTarget)
	assert.Equal(t, direct.Feasible, cached.Feasible)
}

func TestAssess_CacheMissFallsBack(t *testing.T) {
	table := cache.NewDistanceTable()
	table.Set("x", "y", 1)

	v, err := New(table, groundStation).Assess(wp("water source", 50, 50, 20), wp("bucket_1", 10, 0, 10), 100, 2)
	require.NoError(t, err)
	assert.False(t, v.FromCache)
	assert.Greater(t, v.DistanceToTarget, 0.0)
}

func TestFeasible_ZeroBatteryAlwaysInfeasible(t *testing.T) {
	o := New(nil, groundStation)
	current := wp("here", 5, 5, 5)

	targets := []geo.Waypoint{
		wp("near", 5, 5, 6),
		wp("far", 200, 0, 0),
		wp("base", 0, 0, 0),
	}
	for _, eff := range []float64{0.5, 1, 2, 100} {
		for _, target := range targets {
			ok, err := o.Feasible(current, target, 0, eff)
			require.NoError(t, err)
			assert.False(t, ok, "target=%s eff=%v", target.Name, eff)
		}
	}
}

func TestFeasible_MonotonicInEfficiency(t *testing.T) {
	o := New(nil, groundStation)
	current := wp("a", 10, 0, 10)
	target := wp("b", 20, 30, 10)

	for _, battery := range []float64{5, 20, 35, 50, 100} {
		prev := false
		for eff := 0.25; eff <= 8; eff += 0.25 {
			ok, err := o.Feasible(current, target, battery, eff)
			require.NoError(t, err)
			if prev {
				assert.True(t, ok, "battery=%v eff=%v flipped to infeasible", battery, eff)
			}
			prev = ok
		}
	}
}

func TestFeasible_MonotonicInDistance(t *testing.T) {
	o := New(nil, groundStation)
	target := wp("t", 0, 10, 0)

	for _, battery := range []float64{10, 40, 100} {
		prev := true
		for x := 0.0; x <= 300; x += 5 {
			// moving the start further from the target along x
			ok, err := o.Feasible(wp("s", x, 10, 0), target, battery, 2)
			require.NoError(t, err)
			if !prev {
				assert.False(t, ok, "battery=%v x=%v flipped to feasible", battery, x)
			}
			prev = ok
		}
	}
}

func TestAssess_InvalidEfficiency(t *testing.T) {
	o := New(nil, groundStation)

	_, err := o.Assess(wp("a", 0, 0, 0), wp("b", 1, 0, 0), 100, 0)
	assert.ErrorIs(t, err, ErrInvalidEfficiency)

	ok, err := o.Feasible(wp("a", 0, 0, 0), wp("b", 1, 0, 0), 100, -1)
	assert.ErrorIs(t, err, ErrInvalidEfficiency)
	assert.False(t, ok)
}

func TestAssess_DimensionMismatch(t *testing.T) {
	o := New(nil, geo.Position{0, 0})

	_, err := o.Assess(wp("a", 0, 0, 0), wp("b", 1, 0, 0), 100, 2)
	assert.ErrorIs(t, err, geo.ErrDimensionMismatch)
}

func TestAssess_ReservedNameBypassesTable(t *testing.T) {
	table := cache.NewDistanceTable()
	table.Set(geo.ResourcePointName, "far", 1)
	o := New(table, groundStation)

	current := geo.Waypoint{Name: geo.ResourcePointName, Position: geo.Position{50, 50, 20}}
	v, err := o.Assess(current, wp("far", 2, 0, 0), 30, 2)
	require.NoError(t, err)

	want, err := geo.Distance(current.Position, geo.Position{2, 0, 0})
	require.NoError(t, err)
	assert.False(t, v.FromCache)
	assert.InDelta(t, want, v.DistanceToTarget, 1e-9)
	assert.False(t, v.Feasible, "30%% cannot cover %.1f plus the way home", want)
}
