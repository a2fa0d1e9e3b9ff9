package geo

import (
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
)

// RouteLine builds the XYZ line string through the given waypoints in order.
func RouteLine(wps []Waypoint) (geom.LineString, error) {
	if len(wps) < 2 {
		return geom.LineString{}, fmt.Errorf("route line must have at least 2 points, got %d", len(wps))
	}

	flatCoords := make([]float64, 0, len(wps)*3)
	for i, wp := range wps {
		if len(wp.Position) != 3 {
			return geom.LineString{}, fmt.Errorf("waypoint %d (%s) is not 3-dimensional", i, wp.Name)
		}
		flatCoords = append(flatCoords, wp.Position[0], wp.Position[1], wp.Position[2])
	}

	seq := geom.NewSequence(flatCoords, geom.DimXYZ)
	return geom.NewLineString(seq), nil
}

// ParseWaypoints parses a JSON array of waypoints.
// Input format: `[{"name":"a","position":[x,y,z]},...]`
func ParseWaypoints(input string) ([]Waypoint, error) {
	var wps []Waypoint
	if err := json.Unmarshal([]byte(input), &wps); err != nil {
		return nil, fmt.Errorf("failed to parse waypoints JSON: %w", err)
	}
	for i, wp := range wps {
		if wp.Name == "" {
			return nil, fmt.Errorf("waypoint %d has no name", i)
		}
		if len(wp.Position) == 0 {
			return nil, fmt.Errorf("waypoint %d (%s) has no position", i, wp.Name)
		}
	}
	return wps, nil
}
