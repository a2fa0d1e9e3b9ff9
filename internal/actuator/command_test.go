package actuator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want Frame
	}{
		{"start", Start(), Frame{0x91}},
		{"stop", Stop(), Frame{0x92}},
		{"speed 20 for 2s", Speed(20, 2*time.Second), Frame{0x94, 0x00, 0x00, 0xA0, 0x41, 0xD0, 0x07, 0x00}},
		{"speed -20 for 2s", Speed(-20, 2*time.Second), Frame{0x94, 0x00, 0x00, 0xA0, 0xC1, 0xD0, 0x07, 0x00}},
		{"torque 1.5 for 500ms", Torque(1.5, 500*time.Millisecond), Frame{0x93, 0x00, 0x00, 0xC0, 0x3F, 0xF4, 0x01, 0x00}},
		{"position 0 for 0", Position(0, 0), Frame{0x95}},
		{"position 1 for 70s", Position(1, 70*time.Second), Frame{0x95, 0x00, 0x00, 0x80, 0x3F, 0x70, 0x11, 0x01}},
		{"read gear angle", ReadIndicator(GearAngle), Frame{0xB4, 0x13}},
		{"read voltage", ReadIndicator(BusVoltage), Frame{0xB4, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode_Rejects(t *testing.T) {
	_, err := Encode(Command{})
	assert.ErrorIs(t, err, ErrUnsupportedCommand)

	_, err = Encode(Command{Kind: Kind(42)})
	assert.ErrorIs(t, err, ErrUnsupportedCommand)

	_, err = Encode(ReadIndicator(0x14))
	assert.ErrorIs(t, err, ErrInvalidIndicator)

	_, err = Encode(Speed(1, -time.Second))
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestEncodeAll_NoPartialBatch(t *testing.T) {
	frames, err := EncodeAll(Speed(20, time.Second), Command{Kind: Kind(9)}, Start())
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
	assert.Nil(t, frames)
}

func TestEncode_DurationKeepsLowThreeBytes(t *testing.T) {
	f, err := Encode(Speed(1, (1<<24+5)*time.Millisecond))
	require.NoError(t, err)

	_, d := DecodeValue(f)
	assert.Equal(t, 5*time.Millisecond, d)
	assert.Equal(t, byte(0x05), f[5])
	assert.Equal(t, byte(0x00), f[7])
}

func TestDecodeValue_RoundTrip(t *testing.T) {
	f, err := Encode(Speed(20, 2*time.Second))
	require.NoError(t, err)

	v, d := DecodeValue(f)
	assert.InDelta(t, 20.0, v, 1e-6)
	assert.Equal(t, 2*time.Second, d)

	c, err := Decode(f)
	require.NoError(t, err)
	assert.Equal(t, KindSpeed, c.Kind)
	assert.Equal(t, float32(20), c.Value)

	c, err = Decode(Frame{0xB4, 0x12})
	require.NoError(t, err)
	assert.Equal(t, ReadIndicator(MechanicalAngle), c)

	_, err = Decode(Frame{0x10})
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
}

func TestFrameHex(t *testing.T) {
	speed, err := Encode(Speed(20, 2*time.Second))
	require.NoError(t, err)
	start, err := Encode(Start())
	require.NoError(t, err)

	assert.Equal(t, "94 00 00 A0 41 D0 07 00", speed.Hex())
	assert.Equal(t, "94 00 00 A0 41 D0 07 00;91 00 00 00 00 00 00 00", JoinHex(speed, start))
	assert.Equal(t, "", JoinHex())
	assert.Equal(t, OpSpeed, speed.Opcode())
}

func TestParseFrameHex(t *testing.T) {
	f, err := ParseFrameHex("94 00 00 A0 41 D0 07 00")
	require.NoError(t, err)
	assert.Equal(t, Frame{0x94, 0x00, 0x00, 0xA0, 0x41, 0xD0, 0x07, 0x00}, f)

	f, err = ParseFrameHex("b413000000000000")
	require.NoError(t, err)
	assert.Equal(t, Frame{0xB4, 0x13}, f)

	for _, bad := range []string{"", "94 00", "94 00 00 A0 41 D0 07 00 00", "ZZ 00 00 00 00 00 00 00"} {
		_, err := ParseFrameHex(bad)
		assert.ErrorIs(t, err, ErrMalformedFrame, bad)
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "Speed Control (20 RPM for 2s)", Speed(20, 2*time.Second).String())
	assert.Equal(t, "Torque Control (0.5 N.m for 1.5s)", Torque(0.5, 1500*time.Millisecond).String())
	assert.Equal(t, "Start Motor", Start().String())
	assert.Equal(t, "Read Bus Voltage (V)", ReadIndicator(BusVoltage).String())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Speed ")
	require.NoError(t, err)
	assert.Equal(t, KindSpeed, k)

	_, err = ParseKind("brake")
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
}
