package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrodrone/mission/internal/mission"
)

func TestGetStatus(t *testing.T) {
	mc := mission.NewContext()
	mc.Set(mission.Snapshot{RunID: "r1", State: mission.StateLoading, Battery: 42, Visited: 2, Remaining: 4, Target: "bucket_3"})

	s := NewService(Dependencies{
		Mission: mc,
		Pending: func() (int, int) { return 3, 1 },
	})
	st := s.GetStatus()

	assert.Equal(t, "r1", st.RunID)
	assert.Equal(t, mission.StateLoading.String(), st.State)
	assert.Equal(t, 42.0, st.Battery)
	assert.Equal(t, 2, st.Visited)
	assert.Equal(t, 4, st.Remaining)
	assert.Equal(t, "bucket_3", st.Target)
	assert.Equal(t, 3, st.PendingEvents)
	assert.Equal(t, 1, st.PendingSamples)
}

func TestStartStop_WritesStatusFile(t *testing.T) {
	mc := mission.NewContext()
	mc.Set(mission.Snapshot{RunID: "r2", State: mission.StateTransitToTarget, Battery: 77})

	path := filepath.Join(t.TempDir(), "status.json")
	s := NewService(Dependencies{Mission: mc, Path: path, Interval: 10 * time.Millisecond})

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start(), "second start is a no-op")

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && len(data) > 0
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, "r2", st.RunID)
	assert.Equal(t, 77.0, st.Battery)
}

func TestStart_BadPath(t *testing.T) {
	s := NewService(Dependencies{
		Mission: mission.NewContext(),
		Path:    filepath.Join(t.TempDir(), "missing", "status.json"),
	})
	assert.Error(t, s.Start())
	assert.False(t, s.IsRunning())
}
