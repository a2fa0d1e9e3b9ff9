package mission

import (
	"github.com/hydrodrone/mission/internal/feasibility"
	"github.com/hydrodrone/mission/internal/geo"
	"github.com/hydrodrone/mission/internal/route"
)

// Hop is one leg of a previewed run.
type Hop struct {
	From    string
	To      string
	Verdict feasibility.Verdict
	// Battery is the charge on arrival, or before the hop when it is
	// not flown.
	Battery float64
}

// Preview walks plan from the resource point the way a run without
// recharges would, stopping at the first infeasible hop. The last hop
// returned is the infeasible one, if any.
func Preview(plan route.Plan, cfg Config) ([]Hop, error) {
	oracle := feasibility.New(plan.Table, cfg.GroundStation)
	current := geo.Waypoint{Name: geo.ResourcePointName, Position: cfg.ResourcePoint}
	battery := cfg.Battery

	hops := make([]Hop, 0, len(plan.Route))
	for _, wp := range plan.Route {
		v, err := oracle.Assess(current, wp, battery, cfg.Efficiency)
		if err != nil {
			return hops, err
		}
		if !v.Feasible {
			hops = append(hops, Hop{From: current.Name, To: wp.Name, Verdict: v, Battery: battery})
			return hops, nil
		}
		battery = clampBattery(battery - v.DistanceToTarget/cfg.Efficiency)
		hops = append(hops, Hop{From: current.Name, To: wp.Name, Verdict: v, Battery: battery})
		current = wp
	}
	return hops, nil
}
