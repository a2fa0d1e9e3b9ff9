// Package postgres implements the storage.Backend interface on GORM/PostgreSQL
// with PostGIS geometry columns.
package postgres

import (
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/database"
	gormstorage "github.com/hydrodrone/mission/internal/storage/gorm"
)

// New returns a backend that connects to cfg on Init. Events are batched
// every cfg.FlushInterval.
func New(cfg config.PostgresConfig, log zerolog.Logger) *gormstorage.Backend {
	return gormstorage.New(gormstorage.Dependencies{
		Open: func() (*gorm.DB, error) {
			log.Debug().Str("host", cfg.Host).Str("port", cfg.Port).Str("database", cfg.Database).Msg("Connecting to Postgres DB")
			return database.OpenPostgres(cfg)
		},
		FlushInterval: cfg.FlushInterval,
		Logger:        log,
	})
}
