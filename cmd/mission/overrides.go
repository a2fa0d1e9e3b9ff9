package main

import (
	"fmt"
	"os"

	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/geo"
)

// overrides replace parts of the configured mission from the command line.
type overrides struct {
	WaypointsFile string
	GroundStation string
	ResourcePoint string
}

func (o overrides) apply(cfg config.MissionConfig) (config.MissionConfig, error) {
	if o.WaypointsFile != "" {
		data, err := os.ReadFile(o.WaypointsFile)
		if err != nil {
			return cfg, fmt.Errorf("read waypoints: %w", err)
		}
		wps, err := geo.ParseWaypoints(string(data))
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", o.WaypointsFile, err)
		}
		cfg.Waypoints = wps
	}
	if o.GroundStation != "" {
		pos, err := geo.PositionFromString(o.GroundStation)
		if err != nil {
			return cfg, fmt.Errorf("ground station %q: %w", o.GroundStation, err)
		}
		cfg.GroundStation = pos
	}
	if o.ResourcePoint != "" {
		pos, err := geo.PositionFromString(o.ResourcePoint)
		if err != nil {
			return cfg, fmt.Errorf("resource point %q: %w", o.ResourcePoint, err)
		}
		cfg.ResourcePoint = pos
	}
	return cfg, nil
}
