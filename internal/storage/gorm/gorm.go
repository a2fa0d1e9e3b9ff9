// Package gormstorage implements the storage.Backend interface using GORM
// with internal queues and a background DB writer goroutine. Runs are
// written synchronously; events and motor samples are batched.
package gormstorage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/hydrodrone/mission/internal/database"
	"github.com/hydrodrone/mission/internal/model"
	"github.com/hydrodrone/mission/internal/queue"
	"github.com/hydrodrone/mission/internal/storage"
)

// DefaultFlushInterval is used when Dependencies.FlushInterval is zero.
const DefaultFlushInterval = 2 * time.Second

// ErrNotInitialized is returned by Flush before Init.
var ErrNotInitialized = errors.New("storage backend not initialized")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	// DB is used as is when set. Otherwise Open is called by Init; with
	// neither the backend only queues.
	DB            *gorm.DB
	Open          func() (*gorm.DB, error)
	FlushInterval time.Duration
	Logger        zerolog.Logger
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Events  *queue.Queue[model.MissionEvent]
	Samples *queue.Queue[model.MotorSample]
}

func newQueues() *queues {
	return &queues{
		Events:  queue.New[model.MissionEvent](),
		Samples: queue.New[model.MotorSample](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps     Dependencies
	queues   *queues
	flushMu  sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

var _ storage.Backend = (*Backend)(nil)

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{deps: deps}
}

// DB returns the connection, nil in queue-only mode.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init creates internal queues, runs schema migration, and starts the DB writer goroutine.
func (b *Backend) Init() error {
	b.queues = newQueues()
	b.stopChan = make(chan struct{})

	if b.deps.DB == nil && b.deps.Open != nil {
		db, err := b.deps.Open()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		b.deps.DB = db
	}
	if b.deps.DB == nil {
		b.deps.Logger.Warn().Msg("No database configured, records are queued only")
		return nil
	}

	if err := database.Setup(b.deps.DB, b.deps.Logger); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.wg.Add(1)
	go b.writer()
	return nil
}

// Close stops the DB writer goroutine and writes what is still queued.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
	return b.Flush()
}

// StartRun inserts the run synchronously so events can reference it.
func (b *Backend) StartRun(r *model.MissionRun) error {
	if b.deps.DB == nil {
		return nil
	}
	if err := b.deps.DB.Create(r).Error; err != nil {
		return fmt.Errorf("failed to insert mission run %s: %w", r.ID, err)
	}
	b.deps.Logger.Info().Str("run", r.ID).Uint("planned", r.Planned).Msg("Mission run stored")
	return nil
}

// EndRun writes the queued events of the run, then its outcome.
func (b *Backend) EndRun(e storage.RunEnd) error {
	if b.deps.DB == nil {
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}

	err := b.deps.DB.Model(&model.MissionRun{}).Where("id = ?", e.ID).Updates(map[string]any{
		"ended_at":  e.EndedAt,
		"outcome":   e.Outcome,
		"visited":   e.Visited,
		"abandoned": e.Abandoned,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to end mission run %s: %w", e.ID, err)
	}
	return nil
}

// RecordEvent queues a mission event.
func (b *Backend) RecordEvent(e *model.MissionEvent) error {
	b.queues.Events.Push(*e)
	return nil
}

// RecordMotorSample queues a winch status sample.
func (b *Backend) RecordMotorSample(s *model.MotorSample) error {
	b.queues.Samples.Push(*s)
	return nil
}

// Pending returns the number of queued events and samples.
func (b *Backend) Pending() (events, samples int) {
	return b.queues.Events.Len(), b.queues.Samples.Len()
}

// Flush drains the queues into the database.
func (b *Backend) Flush() error {
	if b.queues == nil {
		return ErrNotInitialized
	}
	if b.deps.DB == nil {
		return nil
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	return errors.Join(
		writeQueue(b.deps.DB, b.queues.Events, "mission events", b.deps.Logger),
		writeQueue(b.deps.DB, b.queues.Samples, "motor samples", b.deps.Logger),
	)
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the items are pushed back for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log zerolog.Logger) error {
	if q.Empty() {
		return nil
	}

	tx := db.Begin()
	items := q.GetAndEmpty()
	if err := tx.Create(&items).Error; err != nil {
		log.Error().Err(err).Int("count", len(items)).Msgf("Error creating %s", name)
		tx.Rollback()
		q.Push(items...)
		return fmt.Errorf("write %s: %w", name, err)
	}

	if err := tx.Commit().Error; err != nil {
		q.Push(items...)
		return fmt.Errorf("commit %s: %w", name, err)
	}
	log.Debug().Int("count", len(items)).Msgf("Wrote %s", name)
	return nil
}

// writer periodically drains queues into the DB.
func (b *Backend) writer() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.deps.Logger.Warn().Err(err).Msg("Flush failed, retrying next cycle")
			}
		}
	}
}
