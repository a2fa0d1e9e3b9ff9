package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/hydrodrone/mission/internal/geo"
)

// FileName is the config file looked up in the config directory.
const FileName = "mission.cfg.json"

// DefaultWaypoints are the bucket positions of the test field.
var DefaultWaypoints = []geo.Waypoint{
	{Name: "bucket_1", Position: geo.Position{10, 0, 10}},
	{Name: "bucket_2", Position: geo.Position{0, 10, 10}},
	{Name: "bucket_3", Position: geo.Position{0, 5, 15}},
	{Name: "bucket_4", Position: geo.Position{6, 0, 66}},
	{Name: "bucket_5", Position: geo.Position{0, 40, 10}},
	{Name: "bucket_6", Position: geo.Position{20, 30, 10}},
	{Name: "bucket_7", Position: geo.Position{20, 234, 223}},
	{Name: "bucket_8", Position: geo.Position{222, 10, 49}},
}

// MissionConfig holds the delivery plan and sequencing parameters.
type MissionConfig struct {
	Waypoints       []geo.Waypoint `json:"waypoints" mapstructure:"waypoints"`
	GroundStation   geo.Position   `json:"groundStation" mapstructure:"groundStation"`
	ResourcePoint   geo.Position   `json:"resourcePoint" mapstructure:"resourcePoint"`
	TakeoffAltitude float64        `json:"takeoffAltitude" mapstructure:"takeoffAltitude"`
	Battery         float64        `json:"battery" mapstructure:"battery"`
	Efficiency      float64        `json:"efficiency" mapstructure:"efficiency"`
	LowBattery      float64        `json:"lowBattery" mapstructure:"lowBattery"`
	RechargeRadius  float64        `json:"rechargeRadius" mapstructure:"rechargeRadius"`
	LandedRadius    float64        `json:"landedRadius" mapstructure:"landedRadius"`

	TakeoffDelay       time.Duration `json:"takeoffDelay" mapstructure:"takeoffDelay"`
	ClimbDelay         time.Duration `json:"climbDelay" mapstructure:"climbDelay"`
	TransitDelay       time.Duration `json:"transitDelay" mapstructure:"transitDelay"`
	RechargeInterval   time.Duration `json:"rechargeInterval" mapstructure:"rechargeInterval"`
	ChargeDuration     time.Duration `json:"chargeDuration" mapstructure:"chargeDuration"`
	LandedPollInterval time.Duration `json:"landedPollInterval" mapstructure:"landedPollInterval"`
}

// VehicleConfig selects and configures the flight controller adapter.
type VehicleConfig struct {
	Type           string        `json:"type" mapstructure:"type"`
	Endpoint       string        `json:"endpoint" mapstructure:"endpoint"`
	SystemID       int           `json:"systemId" mapstructure:"systemId"`
	Mode           string        `json:"mode" mapstructure:"mode"`
	ConnectTimeout time.Duration `json:"connectTimeout" mapstructure:"connectTimeout"`
	Home           geo.Home      `json:"home" mapstructure:"home"`
}

// TransportConfig describes how winch frames reach the CAN bus.
type TransportConfig struct {
	Type          string        `json:"type" mapstructure:"type"`
	Binary        string        `json:"binary" mapstructure:"binary"`
	Device        string        `json:"device" mapstructure:"device"`
	CANSpeed      int           `json:"canSpeed" mapstructure:"canSpeed"`
	BaudRate      int           `json:"baudRate" mapstructure:"baudRate"`
	MotorID       int           `json:"motorId" mapstructure:"motorId"`
	Retries       int           `json:"retries" mapstructure:"retries"`
	RetryInterval time.Duration `json:"retryInterval" mapstructure:"retryInterval"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
}

// WinchConfig holds the winch movement profile and polling.
type WinchConfig struct {
	Speed          float64         `json:"speed" mapstructure:"speed"`
	RunTime        time.Duration   `json:"runTime" mapstructure:"runTime"`
	SettleDelay    time.Duration   `json:"settleDelay" mapstructure:"settleDelay"`
	StatusInterval time.Duration   `json:"statusInterval" mapstructure:"statusInterval"`
	Transport      TransportConfig `json:"transport" mapstructure:"transport"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	OutputDir    string        `json:"outputDir" mapstructure:"outputDir"`
}

// PostgresConfig holds Postgres storage backend settings
type PostgresConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          string        `json:"port" mapstructure:"port"`
	Username      string        `json:"username" mapstructure:"username"`
	Password      string        `json:"password" mapstructure:"password"`
	Database      string        `json:"database" mapstructure:"database"`
	SSLMode       string        `json:"sslMode" mapstructure:"sslMode"`
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// InfluxConfig holds InfluxDB connection settings
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
}

// BusConfig holds the websocket relay settings.
type BusConfig struct {
	Enabled   bool          `json:"enabled" mapstructure:"enabled"`
	URL       string        `json:"url" mapstructure:"url"`
	Listen    string        `json:"listen" mapstructure:"listen"`
	Secret    string        `json:"secret" mapstructure:"secret"`
	Forward   []string      `json:"forward" mapstructure:"forward"`
	Reconnect time.Duration `json:"reconnect" mapstructure:"reconnect"`
}

// ArchiveConfig holds the run archive upload settings.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Secret  string `json:"secret" mapstructure:"secret"`
}

// MonitorConfig holds the status file settings.
type MonitorConfig struct {
	StatusFile string        `json:"statusFile" mapstructure:"statusFile"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./missionlogs")

	viper.SetDefault("mission.groundStation", []float64{0, 0, 0})
	viper.SetDefault("mission.resourcePoint", []float64{50, 50, 20})
	viper.SetDefault("mission.takeoffAltitude", 20.0)
	viper.SetDefault("mission.battery", 100.0)
	viper.SetDefault("mission.efficiency", 2.0)
	viper.SetDefault("mission.lowBattery", 10.0)
	viper.SetDefault("mission.rechargeRadius", 100.0)
	viper.SetDefault("mission.landedRadius", 1.0)
	viper.SetDefault("mission.takeoffDelay", "1s")
	viper.SetDefault("mission.climbDelay", "2s")
	viper.SetDefault("mission.transitDelay", "2s")
	viper.SetDefault("mission.rechargeInterval", "10s")
	viper.SetDefault("mission.chargeDuration", "3s")
	viper.SetDefault("mission.landedPollInterval", "1s")

	viper.SetDefault("vehicle.type", "mavlink")
	viper.SetDefault("vehicle.endpoint", "udp:127.0.0.1:14551")
	viper.SetDefault("vehicle.systemId", 10)
	viper.SetDefault("vehicle.mode", "GUIDED")
	viper.SetDefault("vehicle.connectTimeout", "30s")
	viper.SetDefault("vehicle.home.latitude", 0.0)
	viper.SetDefault("vehicle.home.longitude", 0.0)
	viper.SetDefault("vehicle.home.altitude", 0.0)

	viper.SetDefault("winch.speed", 20.0)
	viper.SetDefault("winch.runTime", "2s")
	viper.SetDefault("winch.settleDelay", "100ms")
	viper.SetDefault("winch.statusInterval", "0s")
	viper.SetDefault("winch.transport.type", "canusb")
	viper.SetDefault("winch.transport.binary", "canusb")
	viper.SetDefault("winch.transport.device", "/dev/ttyUSB0")
	viper.SetDefault("winch.transport.canSpeed", 500000)
	viper.SetDefault("winch.transport.baudRate", 2000000)
	viper.SetDefault("winch.transport.motorId", 1)
	viper.SetDefault("winch.transport.retries", 3)
	viper.SetDefault("winch.transport.retryInterval", "50ms")
	viper.SetDefault("winch.transport.timeout", "2s")

	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.outputDir", "./missiondb")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "mission")
	viper.SetDefault("storage.postgres.sslMode", "disable")
	viper.SetDefault("storage.postgres.flushInterval", "2s")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "hydrodrone")

	viper.SetDefault("bus.enabled", false)
	viper.SetDefault("bus.url", "ws://localhost:8090/bus")
	viper.SetDefault("bus.listen", ":8090")
	viper.SetDefault("bus.secret", "")
	viper.SetDefault("bus.forward", []string{})
	viper.SetDefault("bus.reconnect", "1s")

	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.url", "http://localhost:5000")
	viper.SetDefault("archive.secret", "")

	viper.SetDefault("monitor.statusFile", "")
	viper.SetDefault("monitor.interval", "1s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "hydrodrone-mission")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// ErrInvalidMission is returned by Validate for a mission that cannot be flown.
var ErrInvalidMission = errors.New("invalid mission config")

// Validate checks the values the sequencer relies on. Battery figures are
// percentages and efficiency divides every hop.
func (c MissionConfig) Validate() error {
	var errs []error
	if c.Battery < 0 || c.Battery > 100 {
		errs = append(errs, fmt.Errorf("battery %v outside [0, 100]", c.Battery))
	}
	if c.LowBattery < 0 || c.LowBattery > 100 {
		errs = append(errs, fmt.Errorf("lowBattery %v outside [0, 100]", c.LowBattery))
	}
	if c.Efficiency <= 0 {
		errs = append(errs, fmt.Errorf("efficiency %v must be positive", c.Efficiency))
	}
	if c.RechargeInterval <= 0 || c.LandedPollInterval <= 0 {
		errs = append(errs, errors.New("rechargeInterval and landedPollInterval must be positive"))
	}
	if len(c.GroundStation) == 0 {
		errs = append(errs, errors.New("groundStation is missing"))
	}
	if len(c.ResourcePoint) == 0 {
		errs = append(errs, errors.New("resourcePoint is missing"))
	}
	for _, wp := range c.Waypoints {
		if geo.Reserved(wp.Name) {
			errs = append(errs, fmt.Errorf("waypoint %q: %w", wp.Name, geo.ErrReservedName))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidMission, errors.Join(errs...))
	}
	return nil
}

// GetMissionConfig returns the mission plan. A waypoint list that cannot be
// decoded falls back to the default buckets.
func GetMissionConfig() MissionConfig {
	cfg := MissionConfig{
		GroundStation:      position("mission.groundStation"),
		ResourcePoint:      position("mission.resourcePoint"),
		TakeoffAltitude:    viper.GetFloat64("mission.takeoffAltitude"),
		Battery:            viper.GetFloat64("mission.battery"),
		Efficiency:         viper.GetFloat64("mission.efficiency"),
		LowBattery:         viper.GetFloat64("mission.lowBattery"),
		RechargeRadius:     viper.GetFloat64("mission.rechargeRadius"),
		LandedRadius:       viper.GetFloat64("mission.landedRadius"),
		TakeoffDelay:       viper.GetDuration("mission.takeoffDelay"),
		ClimbDelay:         viper.GetDuration("mission.climbDelay"),
		TransitDelay:       viper.GetDuration("mission.transitDelay"),
		RechargeInterval:   viper.GetDuration("mission.rechargeInterval"),
		ChargeDuration:     viper.GetDuration("mission.chargeDuration"),
		LandedPollInterval: viper.GetDuration("mission.landedPollInterval"),
	}
	if err := viper.UnmarshalKey("mission.waypoints", &cfg.Waypoints); err != nil || len(cfg.Waypoints) == 0 {
		cfg.Waypoints = append([]geo.Waypoint(nil), DefaultWaypoints...)
	}
	return cfg
}

// GetVehicleConfig returns the flight controller settings.
func GetVehicleConfig() VehicleConfig {
	return VehicleConfig{
		Type:           viper.GetString("vehicle.type"),
		Endpoint:       viper.GetString("vehicle.endpoint"),
		SystemID:       viper.GetInt("vehicle.systemId"),
		Mode:           viper.GetString("vehicle.mode"),
		ConnectTimeout: viper.GetDuration("vehicle.connectTimeout"),
		Home: geo.Home{
			Latitude:  viper.GetFloat64("vehicle.home.latitude"),
			Longitude: viper.GetFloat64("vehicle.home.longitude"),
			Altitude:  viper.GetFloat64("vehicle.home.altitude"),
		},
	}
}

// GetWinchConfig returns the winch profile and its transport.
func GetWinchConfig() WinchConfig {
	return WinchConfig{
		Speed:          viper.GetFloat64("winch.speed"),
		RunTime:        viper.GetDuration("winch.runTime"),
		SettleDelay:    viper.GetDuration("winch.settleDelay"),
		StatusInterval: viper.GetDuration("winch.statusInterval"),
		Transport: TransportConfig{
			Type:          viper.GetString("winch.transport.type"),
			Binary:        viper.GetString("winch.transport.binary"),
			Device:        viper.GetString("winch.transport.device"),
			CANSpeed:      viper.GetInt("winch.transport.canSpeed"),
			BaudRate:      viper.GetInt("winch.transport.baudRate"),
			MotorID:       viper.GetInt("winch.transport.motorId"),
			Retries:       viper.GetInt("winch.transport.retries"),
			RetryInterval: viper.GetDuration("winch.transport.retryInterval"),
			Timeout:       viper.GetDuration("winch.transport.timeout"),
		},
	}
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			OutputDir:    viper.GetString("storage.sqlite.outputDir"),
		},
		Postgres: PostgresConfig{
			Host:          viper.GetString("storage.postgres.host"),
			Port:          viper.GetString("storage.postgres.port"),
			Username:      viper.GetString("storage.postgres.username"),
			Password:      viper.GetString("storage.postgres.password"),
			Database:      viper.GetString("storage.postgres.database"),
			SSLMode:       viper.GetString("storage.postgres.sslMode"),
			FlushInterval: viper.GetDuration("storage.postgres.flushInterval"),
		},
	}
}

// GetInfluxConfig returns the InfluxDB connection settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
	}
}

// GetBusConfig returns the websocket relay settings.
func GetBusConfig() BusConfig {
	return BusConfig{
		Enabled:   viper.GetBool("bus.enabled"),
		URL:       viper.GetString("bus.url"),
		Listen:    viper.GetString("bus.listen"),
		Secret:    viper.GetString("bus.secret"),
		Forward:   viper.GetStringSlice("bus.forward"),
		Reconnect: viper.GetDuration("bus.reconnect"),
	}
}

// GetArchiveConfig returns the run archive upload settings.
func GetArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled: viper.GetBool("archive.enabled"),
		URL:     viper.GetString("archive.url"),
		Secret:  viper.GetString("archive.secret"),
	}
}

// GetMonitorConfig returns the status file settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StatusFile: viper.GetString("monitor.statusFile"),
		Interval:   viper.GetDuration("monitor.interval"),
	}
}

// GetGraylogConfig returns the GELF settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// position reads a numeric array. Anything else yields nil.
func position(key string) geo.Position {
	raw, ok := viper.Get(key).([]any)
	if !ok {
		if fs, ok := viper.Get(key).([]float64); ok {
			return geo.Position(fs).Clone()
		}
		return nil
	}
	out := make(geo.Position, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		default:
			return nil
		}
	}
	return out
}
