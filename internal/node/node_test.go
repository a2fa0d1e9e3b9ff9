package node

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/mission"
	"github.com/hydrodrone/mission/internal/storage"
)

func startNode(t *testing.T, body string) *Node {
	t.Helper()
	t.Cleanup(viper.Reset)
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(body), 0644))
	viper.Set("logsDir", filepath.Join(dir, "logs"))

	n := Start("mission", dir)
	t.Cleanup(func() { _ = n.Close(context.Background()) })
	return n
}

func TestStart_WritesLogFile(t *testing.T) {
	n := startNode(t, `{ "logLevel": "debug" }`)

	mc := mission.NewContext()
	mc.Set(mission.Snapshot{RunID: "r1", State: mission.StateLoading, Battery: 42})
	n.SetContext(mc)
	n.Logger.Info("hello from test")
	n.SetContext(nil)
	n.Logger.Info("after the run")

	assert.False(t, n.OTel.Enabled())
	require.NoError(t, n.Close(context.Background()))

	data, err := os.ReadFile(n.LogFilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Contains(t, string(data), "run=r1")
	assert.Contains(t, string(data), "battery=42")
	assert.NotContains(t, lineWith(t, string(data), "after the run"), "run=r1")
	assert.Contains(t, string(data), "node=mission")
}

func TestStart_MissingConfigUsesDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	viper.Set("logsDir", filepath.Join(t.TempDir(), "logs"))

	n := Start("winch", t.TempDir())
	defer n.Close(context.Background())

	assert.Equal(t, "sqlite", config.GetStorageConfig().Type)
	assert.FileExists(t, n.LogFilePath)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestClose_ReverseOrder(t *testing.T) {
	n := startNode(t, `{}`)

	var order []int
	n.OnClose(closerFunc(func() error { order = append(order, 1); return nil }))
	n.OnClose(closerFunc(func() error { order = append(order, 2); return nil }))

	require.NoError(t, n.Close(context.Background()))
	assert.Equal(t, []int{2, 1}, order)
}

func TestCreateStorageBackend(t *testing.T) {
	n := startNode(t, `{}`)

	s, err := n.CreateStorageBackend(config.StorageConfig{Type: "none"})
	require.NoError(t, err)
	assert.IsType(t, storage.Nop{}, s.Backend)
	events, samples := s.Pending()
	assert.Zero(t, events)
	assert.Zero(t, samples)

	_, err = n.CreateStorageBackend(config.StorageConfig{Type: "cassandra"})
	assert.ErrorIs(t, err, ErrUnknownStorage)

	out := filepath.Join(t.TempDir(), "db")
	s, err = n.CreateStorageBackend(config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{OutputDir: out}})
	require.NoError(t, err)
	assert.Equal(t, out, filepath.Dir(s.DumpPath))

	require.NoError(t, s.Init())
	require.NoError(t, s.Close())
	assert.FileExists(t, s.DumpPath)
}

func TestOptionalServicesDisabled(t *testing.T) {
	n := startNode(t, `{}`)
	d, err := n.NewDispatcher()
	require.NoError(t, err)
	defer d.Close()

	assert.Nil(t, n.ConnectInflux(context.Background(), d, 1))

	b, err := n.StartBridge(d, []string{"mission_state"}, nil)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func lineWith(t *testing.T, text, needle string) string {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, needle) {
			return line
		}
	}
	t.Fatalf("no line contains %q", needle)
	return ""
}
