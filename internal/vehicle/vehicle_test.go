package vehicle

import (
	"context"
	"errors"
	"testing"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrodrone/mission/internal/geo"
)

func TestNear(t *testing.T) {
	assert.True(t, Near(geo.Position{0, 0, 0}, geo.Position{0, 0, 1}, 1))
	assert.False(t, Near(geo.Position{0, 0, 0}, geo.Position{0, 0, 1.01}, 1))
	assert.False(t, Near(geo.Position{0, 0}, geo.Position{0, 0, 0}, 100))
}

func TestModeNumber(t *testing.T) {
	n, ok := ModeNumber("GUIDED")
	assert.True(t, ok)
	assert.Equal(t, uint32(4), n)

	_, ok = ModeNumber("guided")
	assert.False(t, ok)
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want gomavlib.EndpointConf
	}{
		{"udp:127.0.0.1:14551", gomavlib.EndpointUDPServer{Address: "127.0.0.1:14551"}},
		{"udpout:10.0.0.2:14550", gomavlib.EndpointUDPClient{Address: "10.0.0.2:14550"}},
		{"tcp:localhost:5760", gomavlib.EndpointTCPClient{Address: "localhost:5760"}},
		{"serial:/dev/ttyACM0:115200", gomavlib.EndpointSerial{Device: "/dev/ttyACM0", Baud: 115200}},
		{"serial:/dev/ttyACM0", gomavlib.EndpointSerial{Device: "/dev/ttyACM0", Baud: 57600}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEndpoint(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "udp:", "bogus:1.2.3.4:1", "serial:/dev/x:fast"} {
		_, err := ParseEndpoint(bad)
		assert.ErrorIs(t, err, ErrBadEndpoint, bad)
	}
}

func TestMAVLink_NotConnected(t *testing.T) {
	m := NewMAVLink(MAVLinkConfig{}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, m.Arm(ctx), ErrNotConnected)
	assert.ErrorIs(t, m.GlobalTarget(ctx, geo.Position{1, 2, 3}), ErrNotConnected)
	assert.ErrorIs(t, m.SetMode(ctx, "NOPE"), ErrUnknownMode)

	_, err := m.GetLocalPosition(ctx)
	assert.ErrorIs(t, err, ErrNoPosition)
	assert.NoError(t, m.Close())
}

func TestSim(t *testing.T) {
	s := NewSim(nil)
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx, "udp:127.0.0.1:14551"))
	require.NoError(t, s.SetMode(ctx, "GUIDED"))
	require.NoError(t, s.Arm(ctx))
	require.NoError(t, s.Takeoff(ctx, 20))

	pos, err := s.GetLocalPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, geo.Position{0, 0, 20}, pos)

	require.NoError(t, s.GlobalTarget(ctx, geo.Position{50, 50, 20}))
	pos, _ = s.GetLocalPosition(ctx)
	assert.True(t, s.IsNearWaypoint(pos, geo.Position{50, 50, 20}, 1))

	assert.True(t, s.Armed())
	assert.Equal(t, "GUIDED", s.Mode())

	require.NoError(t, s.ReturnToLaunch(ctx))
	pos, _ = s.GetLocalPosition(ctx)
	assert.Equal(t, geo.Position{0, 0, 0}, pos)
	assert.False(t, s.Armed())

	assert.Equal(t, 1, s.Count("rtl"))
	names := make([]string, 0)
	for _, c := range s.Commands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"connect", "set_mode", "arm", "takeoff", "global_target", "rtl"}, names)
	assert.Equal(t, "global_target(50,50,20)", s.Commands()[4].String())
}

func TestSim_Failures(t *testing.T) {
	s := NewSim(nil)
	ctx := context.Background()
	boom := errors.New("boom")

	s.FailOn("arm", boom)
	assert.ErrorIs(t, s.Arm(ctx), boom)
	assert.False(t, s.Armed())

	s.FailOn("arm", nil)
	assert.NoError(t, s.Arm(ctx))

	s.FailOn("get_local_position", boom)
	_, err := s.GetLocalPosition(ctx)
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, s.SetMode(ctx, "WARP"), ErrUnknownMode)
}
