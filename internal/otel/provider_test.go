package otel

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/hydrodrone/mission/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Node: "mission"})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProvider_NilIsDisabled(t *testing.T) {
	var p *Provider
	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
}

func TestNew_EnabledWithoutOutputs(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "hydrodrone-mission"})
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestNew_FileExporterTagsNode(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(ConfigFrom(config.OTelConfig{
		Enabled:      true,
		ServiceName:  "hydrodrone-mission",
		BatchTimeout: time.Second,
	}, "winch", &buf))
	require.NoError(t, err)
	require.True(t, p.Enabled())

	logger := slog.New(otelslog.NewHandler("test", otelslog.WithLoggerProvider(p.LoggerProvider())))
	logger.Info("payload lowered", "direction", "DOWN")

	require.NoError(t, p.Flush(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "payload lowered")
	assert.Contains(t, out, string(NodeKey))
	assert.Contains(t, out, "winch")
	assert.Contains(t, out, "hydrodrone-mission")

	require.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled(), "shut down provider is disabled")
	assert.NoError(t, p.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestConfigFrom(t *testing.T) {
	var buf bytes.Buffer
	cfg := ConfigFrom(config.OTelConfig{
		Enabled:  true,
		Endpoint: "collector:4318",
		Insecure: true,
	}, "relay", &buf)

	assert.Equal(t, "relay", cfg.Node)
	assert.Equal(t, "collector:4318", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Same(t, &buf, cfg.LogWriter)
}
