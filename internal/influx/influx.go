// Package influx ships mission and winch telemetry to InfluxDB as time
// series. When the server cannot be reached, points are appended to a
// gzipped line-protocol backup file instead.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/hydrodrone/mission/internal/actuator"
	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/dispatcher"
	"github.com/hydrodrone/mission/pkg/streaming"
)

// Buckets written by the mission and winch nodes.
const (
	BucketMission = "mission_telemetry"
	BucketWinch   = "winch_telemetry"
)

// DefaultBucketNames are the buckets created on connect.
var DefaultBucketNames = []string{BucketMission, BucketWinch}

var ErrDisabled = errors.New("influx is disabled")

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	mu         sync.Mutex
	backupFile *os.File
}

// NewManager creates a new InfluxDB manager.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		BucketNames: DefaultBucketNames,
		Logger:      log,
		BackupPath:  backupPath,
		cfg:         cfg,
	}
}

// ServerURL is the InfluxDB endpoint built from the config.
func (m *Manager) ServerURL() string {
	return fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port)
}

// Connect establishes a connection to InfluxDB, falling back to the backup
// file when the server is not healthy.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.ServerURL(),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		if err := m.openBackup(); err != nil {
			return err
		}
		m.Logger.Warn().Err(err).Str("backupPath", m.BackupPath).
			Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.CreateWriters()
	m.Logger.Info().Str("url", m.ServerURL()).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.BackupWriter != nil {
		return nil
	}
	if m.BackupPath == "" {
		return fmt.Errorf("influxdb unreachable and no backup path set")
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgName := m.cfg.Org
	orgs := m.Client.OrganizationsAPI()

	// ensure org exists
	influxOrg, err := orgs.FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = orgs.CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// ensure buckets exist with 90 day retention
	for _, bucket := range m.BucketNames {
		if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 90, // 90 days
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		m.Writers[bucket] = m.Client.WriteAPI(m.cfg.Org, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)
	}
	m.Logger.Debug().Strs("buckets", m.BucketNames).Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := strings.TrimRight(influxdb2_write.PointToLineProtocol(point, time.Nanosecond), "\n")
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes the writers and the backup file.
func (m *Manager) Close() error {
	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}

// Attach writes mission_state and motor_status messages published on d.
func (m *Manager) Attach(d *dispatcher.Dispatcher, motorID uint8, buffer int) {
	d.Subscribe(streaming.TopicMissionState, func(msg dispatcher.Message) error {
		var ev streaming.MissionState
		if err := streaming.Decode(msg.Payload, &ev); err != nil {
			return err
		}
		return m.WritePoint(BucketMission, MissionPoint(ev))
	}, dispatcher.Buffered(buffer))

	d.Subscribe(streaming.TopicMotorStatus, func(msg dispatcher.Message) error {
		var st actuator.MotorStatus
		if err := streaming.Decode(msg.Payload, &st); err != nil {
			return err
		}
		return m.WritePoint(BucketWinch, MotorPoint(st, motorID))
	}, dispatcher.Buffered(buffer))
}

// MissionPoint is the "mission_state" measurement of an event.
func MissionPoint(ev streaming.MissionState) *influxdb2_write.Point {
	point := influxdb2_write.NewPointWithMeasurement("mission_state").
		AddTag("run", ev.RunID).
		AddTag("kind", ev.Kind).
		AddTag("state", ev.State).
		AddField("battery", ev.Battery).
		AddField("charging", ev.Charging).
		AddField("visited", ev.Visited).
		AddField("remaining", ev.Remaining).
		SetTime(ev.Time)
	if ev.Detail != "" {
		point.AddField("detail", ev.Detail)
	}
	if ev.Target != "" {
		point.AddTag("target", ev.Target)
	}
	for i, axis := range []string{"x", "y", "z"} {
		if i < len(ev.Position) {
			point.AddField(axis, ev.Position[i])
		}
	}
	return point
}

// MotorPoint is the "motor_status" measurement of a winch poll. Readings
// the motor did not answer are left out.
func MotorPoint(st actuator.MotorStatus, motorID uint8) *influxdb2_write.Point {
	point := influxdb2_write.NewPointWithMeasurement("motor_status").
		AddTag("motor", strconv.Itoa(int(motorID))).
		AddTag("direction", st.State.Direction.String()).
		AddField("running", st.State.Running).
		SetTime(st.Time)

	readings := []struct {
		name  string
		value *float64
	}{
		{"voltage", st.Voltage},
		{"power", st.Power},
		{"current_q", st.CurrentQ},
		{"current_d", st.CurrentD},
		{"mechanical_angle", st.MechanicalAngle},
		{"gear_angle", st.GearAngle},
		{"rpm", st.ActualSpeed},
	}
	for _, r := range readings {
		if r.value != nil {
			point.AddField(r.name, *r.value)
		}
	}
	return point
}
