package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/mission"
	"github.com/hydrodrone/mission/internal/route"
)

// printPlan writes the optimal route and a recharge-free preview of it.
func printPlan(out io.Writer, mcfg config.MissionConfig) error {
	plan, err := route.Compute(mcfg.Waypoints)
	if err != nil {
		return fmt.Errorf("plan route: %w", err)
	}
	cfg, err := mission.ConfigFrom(mcfg)
	if err != nil {
		return err
	}
	hops, err := mission.Preview(plan, cfg)
	if err != nil {
		return fmt.Errorf("preview route: %w", err)
	}

	fmt.Fprintf(out, "Route over %d waypoints, tour cost %.2f\n\n", len(plan.Route), plan.Cost)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tFROM\tTO\tDISTANCE\tTO BASE\tRANGE\tBATTERY\tFEASIBLE")
	for i, h := range hops {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%.2f\t%.2f\t%.1f\t%t\n",
			i+1, h.From, h.To,
			h.Verdict.DistanceToTarget, h.Verdict.TargetToBase, h.Verdict.RangeAtTarget,
			h.Battery, h.Verdict.Feasible)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(hops) > 0 && !hops[len(hops)-1].Verdict.Feasible {
		abandoned := len(plan.Route) - len(hops) + 1
		fmt.Fprintf(out, "\n%d waypoint(s) would be abandoned without a recharge\n", abandoned)
	}
	return nil
}
