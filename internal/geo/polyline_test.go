package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteLine_Valid(t *testing.T) {
	wps := []Waypoint{
		{Name: "water source", Position: Position{50, 50, 20}},
		{Name: "bucket_1", Position: Position{10, 0, 10}},
		{Name: "bucket_2", Position: Position{0, 10, 10}},
	}

	ls, err := RouteLine(wps)
	require.NoError(t, err)

	seq := ls.Coordinates()
	require.Equal(t, 3, seq.Length())
	assert.Equal(t, 10.0, seq.GetXY(1).X)
	assert.Equal(t, 10.0, seq.GetXY(2).Y)
}

func TestRouteLine_TooFewPoints(t *testing.T) {
	_, err := RouteLine([]Waypoint{{Name: "a", Position: Position{0, 0, 0}}})
	require.Error(t, err)
}

func TestRouteLine_NotThreeDimensional(t *testing.T) {
	_, err := RouteLine([]Waypoint{
		{Name: "a", Position: Position{0, 0, 0}},
		{Name: "b", Position: Position{1, 1}},
	})
	require.Error(t, err)
}

func TestParseWaypoints_Valid(t *testing.T) {
	wps, err := ParseWaypoints(`[{"name":"bucket_1","position":[10,0,10]},{"name":"bucket_2","position":[0,10,10]}]`)

	require.NoError(t, err)
	require.Len(t, wps, 2)
	assert.Equal(t, "bucket_1", wps[0].Name)
	assert.Equal(t, Position{0, 10, 10}, wps[1].Position)
}

func TestParseWaypoints_InvalidJSON(t *testing.T) {
	_, err := ParseWaypoints("not valid json")
	require.Error(t, err)
}

func TestParseWaypoints_MissingFields(t *testing.T) {
	_, err := ParseWaypoints(`[{"position":[1,2,3]}]`)
	require.Error(t, err)

	_, err = ParseWaypoints(`[{"name":"a"}]`)
	require.Error(t, err)
}
