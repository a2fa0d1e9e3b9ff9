package gormstorage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/hydrodrone/mission/internal/database"
	"github.com/hydrodrone/mission/internal/model"
	"github.com/hydrodrone/mission/internal/storage"
)

// newTestBackend creates a Backend with no DB (queue-only mode for unit testing).
func newTestBackend() *Backend {
	return New(Dependencies{Logger: zerolog.Nop()})
}

func newSqliteBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.OpenSqlite("file:" + filepath.Join(t.TempDir(), "mission.db"))
	require.NoError(t, err)
	b := New(Dependencies{DB: db, FlushInterval: time.Hour, Logger: zerolog.Nop()})
	require.NoError(t, b.Init())
	t.Cleanup(func() {
		_ = b.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return b
}

func TestNew_DefaultFlushInterval(t *testing.T) {
	b := newTestBackend()
	require.NotNil(t, b)
	assert.Equal(t, DefaultFlushInterval, b.deps.FlushInterval)
}

func TestInitClose_QueueOnly(t *testing.T) {
	b := newTestBackend()

	require.NoError(t, b.Init())
	require.NotNil(t, b.queues)
	require.NotNil(t, b.stopChan)
	assert.Nil(t, b.DB())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestFlush_BeforeInit(t *testing.T) {
	assert.ErrorIs(t, newTestBackend().Flush(), ErrNotInitialized)
}

func TestRecord_QueuesToInternalQueue(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartRun(&model.MissionRun{ID: "run"}))
	require.NoError(t, b.RecordEvent(&model.MissionEvent{RunID: "run", Kind: "transition"}))
	require.NoError(t, b.RecordMotorSample(&model.MotorSample{MotorID: 1}))
	require.NoError(t, b.RecordMotorSample(&model.MotorSample{MotorID: 1}))

	events, samples := b.Pending()
	assert.Equal(t, 1, events)
	assert.Equal(t, 2, samples)
}

func TestInit_OpenError(t *testing.T) {
	b := New(Dependencies{
		Open:   func() (*gorm.DB, error) { return nil, assert.AnError },
		Logger: zerolog.Nop(),
	})
	assert.ErrorIs(t, b.Init(), assert.AnError)
}

func TestRunLifecycle(t *testing.T) {
	b := newSqliteBackend(t)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, b.StartRun(&model.MissionRun{
		ID:        "run-1",
		StartedAt: start,
		Outcome:   model.OutcomeRunning,
		Planned:   3,
		RouteCost: 42.5,
		Config:    datatypes.JSON(`{"battery":100}`),
	}))

	for i, state := range []string{"Idle", "Takeoff", "Landed"} {
		require.NoError(t, b.RecordEvent(&model.MissionEvent{
			Time:    start.Add(time.Duration(i) * time.Second),
			RunID:   "run-1",
			Kind:    "transition",
			State:   state,
			Detail:  state,
			Battery: 100,
		}))
	}

	var count int64
	require.NoError(t, b.DB().Model(&model.MissionEvent{}).Count(&count).Error)
	assert.Zero(t, count, "events wait for the writer")

	require.NoError(t, b.EndRun(storage.RunEnd{
		ID:        "run-1",
		EndedAt:   start.Add(time.Minute),
		Outcome:   model.OutcomeCompleted,
		Visited:   3,
		Abandoned: 0,
	}))

	require.NoError(t, b.DB().Model(&model.MissionEvent{}).Where("run_id = ?", "run-1").Count(&count).Error)
	assert.Equal(t, int64(3), count)

	var run model.MissionRun
	require.NoError(t, b.DB().First(&run, "id = ?", "run-1").Error)
	assert.Equal(t, model.OutcomeCompleted, run.Outcome)
	assert.Equal(t, uint(3), run.Visited)
	assert.Equal(t, uint(3), run.Planned)
	assert.True(t, run.EndedAt.Valid)
	assert.InDelta(t, 42.5, run.RouteCost, 1e-9)
}

func TestStartRun_Duplicate(t *testing.T) {
	b := newSqliteBackend(t)
	require.NoError(t, b.StartRun(&model.MissionRun{ID: "dup"}))
	assert.Error(t, b.StartRun(&model.MissionRun{ID: "dup"}))
}

func TestClose_FlushesPending(t *testing.T) {
	b := newSqliteBackend(t)
	v := 24.5
	require.NoError(t, b.RecordMotorSample(&model.MotorSample{Time: time.Now().UTC(), MotorID: 1, State: "running", Voltage: &v}))
	require.NoError(t, b.Close())

	var samples []model.MotorSample
	require.NoError(t, b.DB().Find(&samples).Error)
	require.Len(t, samples, 1)
	require.NotNil(t, samples[0].Voltage)
	assert.InDelta(t, 24.5, *samples[0].Voltage, 1e-9)
	assert.Nil(t, samples[0].Power)
}
