package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrodrone/mission/internal/actuator"
	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/dispatcher"
	"github.com/hydrodrone/mission/pkg/streaming"
)

var ts = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func unreachable() config.InfluxConfig {
	return config.InfluxConfig{
		Enabled:  true,
		Host:     "127.0.0.1",
		Port:     "1",
		Protocol: "http",
		Token:    "t",
		Org:      "hydrodrone",
	}
}

func readBackup(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(data)
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop(), "")
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
	assert.Error(t, m.WritePoint(BucketMission, MissionPoint(streaming.MissionState{})))
	assert.NoError(t, m.Close())
}

func TestServerURL(t *testing.T) {
	m := NewManager(unreachable(), zerolog.Nop(), "")
	assert.Equal(t, "http://127.0.0.1:1", m.ServerURL())
}

func TestConnect_FallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx_backup.lp.gz")
	m := NewManager(unreachable(), zerolog.Nop(), path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.IsValid)
	require.NotNil(t, m.BackupWriter)

	require.NoError(t, m.WritePoint(BucketMission, MissionPoint(streaming.MissionState{
		RunID: "run-1", Time: ts, Kind: streaming.KindTransition, State: "Takeoff", Battery: 90,
	})))
	require.NoError(t, m.WritePoint(BucketWinch, MotorPoint(actuator.MotorStatus{Time: ts}, 1)))
	require.NoError(t, m.Close())

	lines := strings.Split(strings.TrimSpace(readBackup(t, path)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "mission_state,"))
	assert.Contains(t, lines[0], "run=run-1")
	assert.Contains(t, lines[0], "battery=90")
	assert.True(t, strings.HasPrefix(lines[1], "motor_status,"))
}

func TestConnect_NoBackupPath(t *testing.T) {
	m := NewManager(unreachable(), zerolog.Nop(), "")
	assert.Error(t, m.Connect(context.Background()))
	m.Close()
}

func TestMissionPoint(t *testing.T) {
	p := MissionPoint(streaming.MissionState{
		RunID:    "run-1",
		Time:     ts,
		Kind:     streaming.KindVerdict,
		State:    "Loading",
		Battery:  75.5,
		Position: []float64{1, 2, 3},
		Target:   "bucket_1",
		Detail:   "bucket_1",
	})
	assert.Equal(t, "mission_state", p.Name())
	assert.Equal(t, ts, p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"run": "run-1", "kind": "verdict", "state": "Loading", "target": "bucket_1"}, tags)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 75.5, fields["battery"])
	assert.Equal(t, 3.0, fields["z"])
	assert.Equal(t, "bucket_1", fields["detail"])
}

func TestMotorPoint_SkipsMissingReadings(t *testing.T) {
	v := 24.0
	p := MotorPoint(actuator.MotorStatus{
		Time:    ts,
		State:   actuator.MotorState{Running: true, Direction: actuator.DirectionDown},
		Voltage: &v,
	}, 3)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 24.0, fields["voltage"])
	assert.Equal(t, true, fields["running"])
	assert.NotContains(t, fields, "rpm")
	assert.NotContains(t, fields, "power")
}

func TestAttach(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attach.lp.gz")
	m := NewManager(unreachable(), zerolog.Nop(), path)
	require.NoError(t, m.Connect(context.Background()))

	d, err := dispatcher.New(nil)
	require.NoError(t, err)
	m.Attach(d, 1, 8)

	require.NoError(t, d.PublishPayload(streaming.TopicMissionState, streaming.MissionState{RunID: "r", Time: ts}))
	require.NoError(t, d.PublishPayload(streaming.TopicMotorStatus, actuator.MotorStatus{Time: ts}))
	d.Close()
	require.NoError(t, m.Close())

	out := readBackup(t, path)
	assert.Contains(t, out, "mission_state,")
	assert.Contains(t, out, "motor_status,")
}
