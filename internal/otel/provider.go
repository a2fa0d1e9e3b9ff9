// Package otel exports a node's slog records through OpenTelemetry, to the
// node log file and optionally to an OTLP collector.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/hydrodrone/mission/internal/config"
)

// ErrNoOutput is returned when export is enabled with nowhere to send it.
var ErrNoOutput = errors.New("otel enabled without a log writer or endpoint")

// NodeKey tags every exported record with the binary that produced it.
const NodeKey = attribute.Key("hydrodrone.node")

// Config selects the exporters of one node.
type Config struct {
	Enabled     bool
	ServiceName string
	// Node is the binary name: mission, winch or relay.
	Node         string
	BatchTimeout time.Duration
	// LogWriter receives records as pretty JSON, usually the node log file.
	LogWriter io.Writer
	// Endpoint is an OTLP/HTTP collector. Empty disables it.
	Endpoint string
	Insecure bool
}

// ConfigFrom builds the provider config of node from the loaded settings.
func ConfigFrom(c config.OTelConfig, node string, w io.Writer) Config {
	return Config{
		Enabled:      c.Enabled,
		ServiceName:  c.ServiceName,
		Node:         node,
		BatchTimeout: c.BatchTimeout,
		LogWriter:    w,
		Endpoint:     c.Endpoint,
		Insecure:     c.Insecure,
	}
}

// Provider owns the log provider fed by the otelslog bridge. The zero
// Provider is disabled and every method is a no-op.
type Provider struct {
	logs *sdklog.LoggerProvider
}

// New creates the provider. A disabled config yields a disabled provider.
func New(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exporters, err := exportersFor(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.Node != "" {
		attrs = append(attrs, NodeKey.String(cfg.Node))
	}
	opts := []sdklog.LoggerProviderOption{
		sdklog.WithResource(resource.NewSchemaless(attrs...)),
	}

	var batch []sdklog.BatchProcessorOption
	if cfg.BatchTimeout > 0 {
		batch = append(batch, sdklog.WithExportTimeout(cfg.BatchTimeout))
	}
	for _, e := range exporters {
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(e, batch...)))
	}
	return &Provider{logs: sdklog.NewLoggerProvider(opts...)}, nil
}

func exportersFor(ctx context.Context, cfg Config) ([]sdklog.Exporter, error) {
	var out []sdklog.Exporter
	if cfg.LogWriter != nil {
		e, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("file log exporter: %w", err)
		}
		out = append(out, e)
	}
	if cfg.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		e, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("OTLP log exporter %s: %w", cfg.Endpoint, err)
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, ErrNoOutput
	}
	return out, nil
}

// Enabled reports whether records are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.logs != nil
}

// LoggerProvider returns the provider for the otelslog bridge, or nil when
// disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	if p == nil {
		return nil
	}
	return p.logs
}

// Flush exports pending records. Called when a run ends.
func (p *Provider) Flush(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	if err := p.logs.ForceFlush(ctx); err != nil {
		return fmt.Errorf("log flush failed: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the exporters. The provider is disabled
// afterwards.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	err := p.logs.Shutdown(ctx)
	p.logs = nil
	if err != nil {
		return fmt.Errorf("log shutdown failed: %w", err)
	}
	return nil
}
