package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for CellFleet Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Fleet        FleetConfig        `yaml:"fleet"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Registration RegistrationConfig `yaml:"registration"`
	Commands     CommandsConfig     `yaml:"commands"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// FleetConfig contains fleet-level identification.
type FleetConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// TelemetryConfig selects and configures the time-series mirror for
// resource values. Backend is "influxdb" or "victoriametrics".
type TelemetryConfig struct {
	Backend         string                `yaml:"backend"`
	InfluxDB        InfluxDBConfig        `yaml:"influxdb"`
	VictoriaMetrics VictoriaMetricsConfig `yaml:"victoriametrics"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// VictoriaMetricsConfig contains VictoriaMetrics connection settings.
// Writes use InfluxDB line protocol on the /write endpoint.
type VictoriaMetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RegistrationConfig contains registration registry settings.
type RegistrationConfig struct {
	// SweepInterval is how often the stale sweep runs (seconds).
	SweepInterval int `yaml:"sweep_interval"`

	// DefaultLifetime is applied when a device registers with lifetime 0 (seconds).
	DefaultLifetime int `yaml:"default_lifetime"`

	// MaxLifetime caps the lifetime a device may request (seconds). 0 = no cap.
	MaxLifetime int `yaml:"max_lifetime"`
}

// CommandsConfig contains command dispatch settings.
type CommandsConfig struct {
	// MaxAttempts is the number of delivery attempts before a command
	// transitions to failed.
	MaxAttempts int `yaml:"max_attempts"`

	// AckTimeout is how long a sent command waits for an acknowledgement
	// before being treated as failed (seconds).
	AckTimeout int `yaml:"ack_timeout"`

	// BackoffInitial is the retry backoff after the first failure (seconds).
	BackoffInitial int `yaml:"backoff_initial"`

	// BackoffMax caps the exponential retry backoff (seconds).
	BackoffMax int `yaml:"backoff_max"`
}

// AlertsConfig contains alert evaluation thresholds.
type AlertsConfig struct {
	SignalStrength ThresholdConfig `yaml:"signal_strength"`
	ErrorRate      ThresholdConfig `yaml:"error_rate"`
}

// ThresholdConfig defines warning and critical thresholds for a telemetry
// point. For signal strength (dBm) values below the threshold trigger; for
// error rate values above the threshold trigger.
type ThresholdConfig struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CELLFLEET_SECTION_KEY
// For example: CELLFLEET_DATABASE_PATH, CELLFLEET_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Fleet: FleetConfig{
			ID:   "fleet-001",
			Name: "CellFleet",
		},
		Database: DatabaseConfig{
			Path:        "./data/cellfleet.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cellfleet-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Telemetry: TelemetryConfig{
			Backend: "influxdb",
			InfluxDB: InfluxDBConfig{
				URL:           "http://localhost:8086",
				Org:           "cellfleet",
				Bucket:        "telemetry",
				BatchSize:     100,
				FlushInterval: 10,
			},
			VictoriaMetrics: VictoriaMetricsConfig{
				URL:           "http://localhost:8428",
				BatchSize:     1000,
				FlushInterval: 1,
			},
		},
		Registration: RegistrationConfig{
			SweepInterval:   5,
			DefaultLifetime: 86400,
			MaxLifetime:     0,
		},
		Commands: CommandsConfig{
			MaxAttempts:    3,
			AckTimeout:     30,
			BackoffInitial: 2,
			BackoffMax:     120,
		},
		Alerts: AlertsConfig{
			// RSSI in dBm: below -95 is marginal, below -105 is unusable
			// for most cellular modems.
			SignalStrength: ThresholdConfig{
				Warning:  -95,
				Critical: -105,
			},
			// Error rate as a fraction of failed exchanges.
			ErrorRate: ThresholdConfig{
				Warning:  0.05,
				Critical: 0.20,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CELLFLEET_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("CELLFLEET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("CELLFLEET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CELLFLEET_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("CELLFLEET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CELLFLEET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Telemetry
	if v := os.Getenv("CELLFLEET_INFLUXDB_TOKEN"); v != "" {
		cfg.Telemetry.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Fleet validation
	if c.Fleet.ID == "" {
		errs = append(errs, "fleet.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// Telemetry validation
	switch c.Telemetry.Backend {
	case "influxdb", "victoriametrics":
	default:
		errs = append(errs, "telemetry.backend must be influxdb or victoriametrics")
	}

	// Registration validation
	if c.Registration.SweepInterval < 1 {
		errs = append(errs, "registration.sweep_interval must be at least 1 second")
	}
	if c.Registration.DefaultLifetime < 1 {
		errs = append(errs, "registration.default_lifetime must be at least 1 second")
	}

	// Command validation
	if c.Commands.MaxAttempts < 1 {
		errs = append(errs, "commands.max_attempts must be at least 1")
	}
	if c.Commands.AckTimeout < 1 {
		errs = append(errs, "commands.ack_timeout must be at least 1 second")
	}

	// Alert thresholds: critical must be more severe than warning
	if c.Alerts.SignalStrength.Critical > c.Alerts.SignalStrength.Warning {
		errs = append(errs, "alerts.signal_strength.critical must be at or below warning")
	}
	if c.Alerts.ErrorRate.Critical < c.Alerts.ErrorRate.Warning {
		errs = append(errs, "alerts.error_rate.critical must be at or above warning")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SweepInterval returns the registration sweep interval as a Duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Registration.SweepInterval) * time.Second
}

// AckTimeout returns the command acknowledgement timeout as a Duration.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Commands.AckTimeout) * time.Second
}

// BackoffInitial returns the initial command retry backoff as a Duration.
func (c *Config) BackoffInitial() time.Duration {
	return time.Duration(c.Commands.BackoffInitial) * time.Second
}

// BackoffMax returns the maximum command retry backoff as a Duration.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Commands.BackoffMax) * time.Second
}
