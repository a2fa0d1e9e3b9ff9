package postgres

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/model"
)

func TestInit_Unreachable(t *testing.T) {
	b := New(config.PostgresConfig{
		Host:          "127.0.0.1",
		Port:          "1",
		Username:      "postgres",
		Password:      "postgres",
		Database:      "mission",
		FlushInterval: time.Second,
	}, zerolog.Nop())
	require.NotNil(t, b)

	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open database")
	assert.Nil(t, b.DB())

	// queues stay usable so callers can keep recording after a failed init
	assert.NoError(t, b.RecordEvent(&model.MissionEvent{RunID: "r"}))
}
