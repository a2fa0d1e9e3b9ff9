package transport

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrodrone/mission/internal/actuator"
	"github.com/hydrodrone/mission/internal/config"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls   []call
	results []error
	stdout  string
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	var err error
	if i := len(f.calls) - 1; i < len(f.results) {
		err = f.results[i]
	}
	if err != nil {
		return "", "error: " + err.Error(), err
	}
	return f.stdout, "", nil
}

func newTestCANUSB(t *testing.T, r *fakeRunner, retries int) *CANUSB {
	t.Helper()
	c := NewCANUSB(CANUSBConfig{Retries: retries, RetryInterval: time.Millisecond}, nil)
	c.run = r.run
	return c
}

func mustEncode(t *testing.T, cmds ...actuator.Command) []actuator.Frame {
	t.Helper()
	frames, err := actuator.EncodeAll(cmds...)
	require.NoError(t, err)
	return frames
}

func TestCANUSB_Args(t *testing.T) {
	r := &fakeRunner{stdout: "ok"}
	c := newTestCANUSB(t, r, 0)

	frames := mustEncode(t, actuator.Speed(20, 2*time.Second), actuator.Start())
	reply, err := c.Send(context.Background(), frames...)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Stdout)

	require.Len(t, r.calls, 1)
	assert.Equal(t, "canusb", r.calls[0].name)
	assert.Equal(t, []string{
		"-d", "/dev/ttyUSB0",
		"-s", "500000",
		"-b", "2000000",
		"-i", "1",
		"-j", "94 00 00 A0 41 D0 07 00;91 00 00 00 00 00 00 00",
		"-n", "1",
		"-m", "2",
	}, r.calls[0].args)
}

func TestCANUSB_MotorIDIsHex(t *testing.T) {
	c := NewCANUSB(CANUSBConfig{MotorID: 26}, nil)
	args := c.Args(actuator.Frame{0x92})
	assert.Equal(t, "1a", args[7])
}

func TestCANUSB_RetriesThenSucceeds(t *testing.T) {
	boom := errors.New("exit status 1")
	r := &fakeRunner{results: []error{boom, boom}, stdout: "Received: B4 00 00 00 00 00 48 41"}
	c := newTestCANUSB(t, r, 3)

	reply, err := c.Send(context.Background(), actuator.Frame{0xB4})
	require.NoError(t, err)
	assert.Len(t, r.calls, 3)

	v, ok := reply.IndicatorValue()
	assert.True(t, ok)
	assert.Equal(t, float32(12.5), v)
}

func TestCANUSB_GivesUpAfterRetries(t *testing.T) {
	boom := errors.New("exit status 1")
	r := &fakeRunner{results: []error{boom, boom, boom, boom}}
	c := newTestCANUSB(t, r, 2)

	reply, err := c.Send(context.Background(), actuator.Frame{0x92})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, r.calls, 3, "first attempt plus two retries")
	assert.Contains(t, reply.Stderr, "exit status 1")
}

func TestCANUSB_MissingBinaryIsPermanent(t *testing.T) {
	r := &fakeRunner{results: []error{exec.ErrNotFound}}
	c := newTestCANUSB(t, r, 5)

	_, err := c.Send(context.Background(), actuator.Frame{0x92})
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.Len(t, r.calls, 1)
}

func TestCANUSB_NoFrames(t *testing.T) {
	r := &fakeRunner{}
	c := newTestCANUSB(t, r, 0)

	_, err := c.Send(context.Background())
	assert.ErrorIs(t, err, ErrNoFrames)
	assert.Empty(t, r.calls)
}

func TestNew(t *testing.T) {
	tr, err := New(config.TransportConfig{Type: "canusb"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CANUSB{}, tr)

	tr, err = New(config.TransportConfig{Type: "dryrun"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Recorder{}, tr)

	_, err = New(config.TransportConfig{Type: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
