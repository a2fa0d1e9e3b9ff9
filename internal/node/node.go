// Package node sets up the config, logging and telemetry shared by the
// mission, winch and relay binaries.
package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/dispatcher"
	"github.com/hydrodrone/mission/internal/logging"
	intOtel "github.com/hydrodrone/mission/internal/otel"
)

// Node holds the ambient services of one binary.
type Node struct {
	Name         string
	SessionStart time.Time
	LogFilePath  string
	LogsDir      string

	Logs    *logging.SlogManager
	Logger  *slog.Logger
	Zerolog zerolog.Logger
	OTel    *intOtel.Provider

	logFile *os.File
	closers []io.Closer
	attrs   atomic.Pointer[attrSource]
}

// Start loads the config from configDir and sets up logging. Failures of
// optional outputs are logged and the node keeps running without them.
func Start(name, configDir string) *Node {
	n := &Node{
		Name:         name,
		SessionStart: time.Now(),
		Logs:         logging.NewSlogManager(),
	}
	n.Logs.Setup(nil, "info", nil)
	n.Logger = n.Logs.Logger()

	if err := config.Load(configDir); err != nil {
		n.Logger.Warn("Failed to load config, using defaults!", "error", err, "dir", configDir)
	} else {
		n.Logger.Info("Loaded config", "dir", configDir)
	}
	level := config.GetString("logLevel")

	n.LogsDir = config.GetString("logsDir")
	if err := os.MkdirAll(n.LogsDir, 0755); err != nil {
		n.Logger.Error("Failed to create logs directory", "error", err, "path", n.LogsDir)
	}

	n.LogFilePath = logging.LogFilePath(n.LogsDir, name, n.SessionStart)
	if _, err := os.Stat(n.LogFilePath); err == nil {
		_ = os.Rename(n.LogFilePath, n.LogFilePath+".old")
	}
	file, err := os.OpenFile(n.LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		n.Logger.Error("Failed to create/open log file!", "error", err, "path", n.LogFilePath)
	} else {
		n.logFile = file
	}

	otelCfg := config.GetOTelConfig()
	n.OTel, err = intOtel.New(intOtel.ConfigFrom(otelCfg, name, n.fileWriter()))
	if err != nil {
		n.Logger.Error("Failed to initialize OTel provider", "error", err)
		n.OTel, _ = intOtel.New(intOtel.Config{})
	} else if n.OTel.Enabled() {
		n.Logger.Info("OTel provider initialized", "file", n.LogFilePath, "endpoint", otelCfg.Endpoint)
	}

	var graylog slog.Handler
	if gc := config.GetGraylogConfig(); gc.Enabled {
		h, closer, err := logging.NewGELFHandler(gc.Address, level, name)
		if err != nil {
			n.Logger.Error("Failed to set up Graylog output", "error", err, "address", gc.Address)
		} else {
			graylog = h
			n.closers = append(n.closers, closer)
		}
	}

	var provider *sdklog.LoggerProvider
	if n.OTel.Enabled() {
		provider = n.OTel.LoggerProvider()
	}
	n.Logs.SetupWith(logging.Options{
		File:     n.fileWriter(),
		Level:    level,
		Provider: provider,
		Graylog:  graylog,
		Context:  logging.ContextProvider(n.contextAttrs),
		Service:  otelCfg.ServiceName,
	})
	n.Logger = n.Logs.Logger().With("node", name)
	slog.SetDefault(n.Logger)
	n.Logger.Info("Logging to file", "path", n.LogFilePath)

	n.Zerolog = logging.NewZerolog(n.fileWriter(), level).With().Str("node", name).Logger()
	return n
}

// fileWriter returns the log file, or nil when it could not be opened.
func (n *Node) fileWriter() io.Writer {
	if n.logFile == nil {
		return nil
	}
	return n.logFile
}

type attrSource struct{ logging.AttrSource }

// SetContext installs the attributes added to every slog record, usually a
// *mission.Context. A nil src clears them.
func (n *Node) SetContext(src logging.AttrSource) {
	if src == nil {
		n.attrs.Store(nil)
		return
	}
	n.attrs.Store(&attrSource{src})
}

func (n *Node) contextAttrs() []slog.Attr {
	p := n.attrs.Load()
	if p == nil {
		return nil
	}
	return p.Attrs()
}

// NewDispatcher creates the in-process bus, logging through zerolog.
func (n *Node) NewDispatcher() (*dispatcher.Dispatcher, error) {
	return dispatcher.New(logging.NewBusLogger(n.Zerolog))
}

// OnClose registers c to be closed by Close, in reverse order.
func (n *Node) OnClose(c io.Closer) {
	n.closers = append(n.closers, c)
}

// Close releases everything registered on the node, then flushes and shuts
// down the log outputs.
func (n *Node) Close(ctx context.Context) error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil

	if err := n.OTel.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := n.OTel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	n.Logger.Info("Node stopped")
	if n.logFile != nil {
		errs = append(errs, n.logFile.Close())
		n.logFile = nil
	}
	return errors.Join(errs...)
}
