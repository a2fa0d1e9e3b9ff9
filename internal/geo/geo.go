package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
	"gonum.org/v1/gonum/floats"
)

// Positions are local mission coordinates: X north, Y east, Z up, in metres
// from the home point. Points stored in the database keep that frame so the
// recorded path can be replayed against the configured waypoints.

var (
	// ErrDimensionMismatch is returned when two positions have a different number of coordinates.
	ErrDimensionMismatch = errors.New("positions must be of the same dimension")
	// ErrInvalidCoordinates is returned when the coordinates are invalid
	ErrInvalidCoordinates = errors.New("invalid coordinates provided")
	// ErrReservedName is returned for a waypoint named after a fixed mission point.
	ErrReservedName = errors.New("waypoint name is reserved")
)

// Names of the fixed mission points. Distances are cached by name, so no
// waypoint may use them.
const (
	GroundStationName = "ground station"
	ResourcePointName = "water source"
)

// Reserved reports whether name belongs to a fixed mission point.
func Reserved(name string) bool {
	return name == GroundStationName || name == ResourcePointName
}

// Position is a point in the local mission frame.
type Position []float64

// Waypoint is a named mission target.
type Waypoint struct {
	Name     string   `json:"name" mapstructure:"name"`
	Position Position `json:"position" mapstructure:"position"`
}

// String formats the position as "x,y,z".
func (p Position) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Clone returns a copy that does not share the backing array.
func (p Position) Clone() Position {
	if p == nil {
		return nil
	}
	out := make(Position, len(p))
	copy(out, p)
	return out
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Position) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	return floats.Distance(a, b, 2), nil
}

// PositionFromString parses "x,y" or "x,y,z" into a Position.
func PositionFromString(coords string) (Position, error) {
	coordsSplit := strings.Split(coords, ",")
	if len(coordsSplit) < 2 {
		return nil, ErrInvalidCoordinates
	}
	pos := make(Position, 0, len(coordsSplit))
	for _, c := range coordsSplit {
		v, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return nil, ErrInvalidCoordinates
		}
		pos = append(pos, v)
	}
	return pos, nil
}

// Point converts a local position into a geometry point for storage.
// Positions without an altitude are stored at Z=0.
func Point(p Position) (geom.Point, error) {
	if len(p) < 2 || len(p) > 3 {
		return geom.NewEmptyPoint(geom.DimXYZ), ErrInvalidCoordinates
	}
	var z float64
	if len(p) == 3 {
		z = p[2]
	}
	point := geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: p[0], Y: p[1]},
			Z:    z,
			Type: geom.CoordinatesType(geom.DimXYZ),
		},
	)
	return point, nil
}

// Home is the geodetic origin of the local mission frame.
type Home struct {
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
	Altitude  float64 `json:"altitude" mapstructure:"altitude"`
}

// LocalToGlobal converts a local position into latitude, longitude and
// altitude relative to home. The offset is applied in web mercator, scaled
// by the mercator stretch at the home latitude.
func LocalToGlobal(home Home, p Position) (lat, lon, alt float64, err error) {
	if len(p) < 2 {
		return 0, 0, 0, ErrInvalidCoordinates
	}

	epsg := wgs84.EPSG()
	toMercator := epsg.Transform(4326, 3857)
	toLonLat := epsg.Transform(3857, 4326)

	x0, y0, _ := toMercator(home.Longitude, home.Latitude, 0)
	scale := 1 / math.Cos(home.Latitude*math.Pi/180)

	north, east := p[0], p[1]
	lon, lat, _ = toLonLat(x0+east*scale, y0+north*scale, 0)

	alt = home.Altitude
	if len(p) > 2 {
		alt += p[2]
	}
	return lat, lon, alt, nil
}
