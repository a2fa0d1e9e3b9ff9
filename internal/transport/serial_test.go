package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrodrone/mission/internal/actuator"
)

// fakePort returns queued chunks on Read and (0, nil) once drained, which is
// how go.bug.st/serial reports a read timeout.
type fakePort struct {
	written bytes.Buffer
	reads   [][]byte
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.reads) == 0 {
		return 0, nil
	}
	n := copy(b, p.reads[0])
	if n < len(p.reads[0]) {
		p.reads[0] = p.reads[0][n:]
	} else {
		p.reads = p.reads[1:]
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *fakePort) Close() error                { p.closed = true; return nil }

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func TestSettingsPacket(t *testing.T) {
	p, err := SettingsPacket(500000)
	require.NoError(t, err)
	require.Len(t, p, 20)
	assert.Equal(t, []byte{0xAA, 0x55, 0x12, 0x03, 0x01}, p[:5])
	assert.Equal(t, byte(0x01), p[14])
	assert.Equal(t, byte(0x12+0x03+0x01+0x01), p[19], "checksum")

	_, err = SettingsPacket(123)
	assert.ErrorIs(t, err, ErrUnsupportedSpeed)
}

func TestEncodeDataFrame(t *testing.T) {
	raw, err := EncodeDataFrame(1, []byte{0x92, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xC8, 0x01, 0x00, 0x92, 0, 0, 0, 0, 0, 0, 0, 0x55}, raw)

	_, err = EncodeDataFrame(1, make([]byte, 9))
	assert.Error(t, err)
}

func TestNextDataFrame(t *testing.T) {
	frame, err := EncodeDataFrame(0x141, []byte{0xB4, 0x00, 0x00, 0x00, 0x00, 0x00, 0x48, 0x41})
	require.NoError(t, err)

	t.Run("complete after garbage", func(t *testing.T) {
		buf := append([]byte{0x01, 0x02}, frame...)
		id, data, n, ok := nextDataFrame(buf)
		require.True(t, ok)
		assert.Equal(t, uint32(0x141), id)
		assert.Equal(t, frame[4:12], data)
		assert.Equal(t, len(buf), n)
	})

	t.Run("incomplete keeps the start", func(t *testing.T) {
		buf := append([]byte{0x01}, frame[:6]...)
		_, _, n, ok := nextDataFrame(buf)
		assert.False(t, ok)
		assert.Equal(t, 1, n)
	})

	t.Run("bad terminator is skipped", func(t *testing.T) {
		bad := append([]byte(nil), frame...)
		bad[len(bad)-1] = 0x00
		_, _, n, ok := nextDataFrame(bad)
		assert.False(t, ok)
		assert.Equal(t, len(bad), n)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, n, ok := nextDataFrame(nil)
		assert.False(t, ok)
		assert.Equal(t, 0, n)
	})
}

func TestSerial_WritesSettingsAndFrames(t *testing.T) {
	port := &fakePort{}
	s, err := NewSerial(port, SerialConfig{Device: "/dev/null"}, nil)
	require.NoError(t, err)

	settings, _ := SettingsPacket(500000)
	assert.Equal(t, settings, port.written.Bytes())
	port.written.Reset()

	frames, err := actuator.EncodeAll(actuator.Speed(20, 2*time.Second), actuator.Start())
	require.NoError(t, err)
	reply, err := s.Send(context.Background(), frames...)
	require.NoError(t, err)
	assert.Empty(t, reply.Frames)

	speed, _ := EncodeDataFrame(1, frames[0][:])
	start, _ := EncodeDataFrame(1, frames[1][:])
	assert.Equal(t, append(speed, start...), port.written.Bytes())

	require.NoError(t, s.Close())
	assert.True(t, port.closed)
}

func TestSerial_ReadIndicatorReply(t *testing.T) {
	reply, _ := EncodeDataFrame(1, []byte{0xB4, 0x00, 0x00, 0x00, 0x00, 0x00, 0x48, 0x41})
	port := &fakePort{reads: [][]byte{{0x00}, reply[:5], reply[5:]}}
	s, err := NewSerial(port, SerialConfig{}, nil)
	require.NoError(t, err)

	r, err := s.Send(context.Background(), actuator.Frame{actuator.OpReadIndicator, 0x00})
	require.NoError(t, err)
	require.Len(t, r.Frames, 1)

	v, ok := r.IndicatorValue()
	assert.True(t, ok)
	assert.Equal(t, float32(12.5), v)
	assert.Equal(t, "Received: B4 00 00 00 00 00 48 41", r.Stdout)
}

func TestSerial_ReplyTimeout(t *testing.T) {
	s, err := NewSerial(&fakePort{}, SerialConfig{ReplyTimeout: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = s.Send(context.Background(), actuator.Frame{actuator.OpReadIndicator, 0x13})
	assert.ErrorIs(t, err, ErrReplyTimeout)
}

func TestSerial_UnsupportedSpeed(t *testing.T) {
	_, err := NewSerial(&fakePort{}, SerialConfig{CANSpeed: 42}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedSpeed)
}
