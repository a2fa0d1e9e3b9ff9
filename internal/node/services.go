package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hydrodrone/mission/internal/bus"
	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/dispatcher"
	"github.com/hydrodrone/mission/internal/influx"
	"github.com/hydrodrone/mission/internal/storage"
	pgstorage "github.com/hydrodrone/mission/internal/storage/postgres"
	sqlitestorage "github.com/hydrodrone/mission/internal/storage/sqlite"
)

var ErrUnknownStorage = errors.New("unknown storage type")

// Storage is an initialized backend. DumpPath is set for sqlite.
type Storage struct {
	storage.Backend
	DumpPath string
}

// Pending reports the queued writes of backends that buffer them.
func (s Storage) Pending() (events, samples int) {
	if p, ok := s.Backend.(interface{ Pending() (int, int) }); ok {
		return p.Pending()
	}
	return 0, 0
}

// CreateStorageBackend builds the backend named by cfg.Type.
func (n *Node) CreateStorageBackend(cfg config.StorageConfig) (Storage, error) {
	log := n.Zerolog.With().Str("component", "storage").Logger()

	switch strings.ToLower(cfg.Type) {
	case "postgres":
		n.Logger.Info("Postgres storage backend selected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return Storage{Backend: pgstorage.New(cfg.Postgres, log)}, nil

	case "sqlite":
		if err := os.MkdirAll(cfg.SQLite.OutputDir, 0755); err != nil {
			return Storage{}, fmt.Errorf("create sqlite output dir: %w", err)
		}
		dumpPath := sqlitestorage.DumpPath(cfg.SQLite.OutputDir, n.Name, n.SessionStart)
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     dumpPath,
		}, log)
		if err != nil {
			return Storage{}, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		n.Logger.Info("SQLite storage backend selected", "dumpPath", dumpPath)
		return Storage{Backend: backend, DumpPath: dumpPath}, nil

	case "none", "":
		n.Logger.Info("Storage disabled")
		return Storage{Backend: storage.Nop{}}, nil

	default:
		return Storage{}, fmt.Errorf("%w: %s", ErrUnknownStorage, cfg.Type)
	}
}

// OpenStorage creates and initializes the configured backend. Init failures
// fall back to storage.Nop so the node keeps running.
func (n *Node) OpenStorage() Storage {
	s, err := n.CreateStorageBackend(config.GetStorageConfig())
	if err != nil {
		n.Logger.Error("Failed to create storage backend", "error", err)
		return Storage{Backend: storage.Nop{}}
	}
	if err := s.Init(); err != nil {
		n.Logger.Error("Failed to initialize storage backend", "error", err)
		return Storage{Backend: storage.Nop{}}
	}
	return s
}

// ConnectInflux connects the telemetry writer and attaches it to d. It
// returns nil when influx is disabled or cannot be used.
func (n *Node) ConnectInflux(ctx context.Context, d *dispatcher.Dispatcher, motorID uint8) *influx.Manager {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return nil
	}
	backup := filepath.Join(n.LogsDir, fmt.Sprintf("%s_influx_%s.lp.gz", n.Name, n.SessionStart.Format("20060102_150405")))
	m := influx.NewManager(cfg, n.Zerolog.With().Str("component", "influx").Logger(), backup)
	if err := m.Connect(ctx); err != nil {
		n.Logger.Error("Failed to connect InfluxDB", "error", err, "url", m.ServerURL())
		return nil
	}
	m.Attach(d, motorID, 1000)
	return m
}

// StartBridge connects d to the relay when the bus is enabled. forward is
// merged with the configured forward list. It returns nil when disabled.
func (n *Node) StartBridge(d *dispatcher.Dispatcher, forward, subscribe []string) (*bus.Bridge, error) {
	cfg := config.GetBusConfig()
	if !cfg.Enabled {
		return nil, nil
	}
	for _, topic := range cfg.Forward {
		if !slices.Contains(forward, topic) {
			forward = append(forward, topic)
		}
	}
	b := bus.New(bus.Config{
		URL:       cfg.URL,
		Secret:    cfg.Secret,
		Node:      n.Name,
		Forward:   forward,
		Subscribe: subscribe,
		Reconnect: cfg.Reconnect,
	}, d, n.Logger)
	if err := b.Start(); err != nil {
		return nil, fmt.Errorf("start bus bridge: %w", err)
	}
	return b, nil
}
