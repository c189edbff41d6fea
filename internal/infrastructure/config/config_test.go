package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
fleet:
  id: "test-fleet"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
registration:
  sweep_interval: 5
  default_lifetime: 3600
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fleet.ID != "test-fleet" {
		t.Errorf("Fleet.ID = %q, want %q", cfg.Fleet.ID, "test-fleet")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	if cfg.Registration.DefaultLifetime != 3600 {
		t.Errorf("Registration.DefaultLifetime = %d, want 3600", cfg.Registration.DefaultLifetime)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
fleet:
  id: ""
database:
  path: "/tmp/test.db"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty fleet.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	// valid returns a config that passes validation; tests mutate it to
	// produce each failure case.
	valid := func() *Config {
		cfg := defaultConfig()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing fleet ID",
			mutate:  func(c *Config) { c.Fleet.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid broker port low",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid broker port high",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "unknown telemetry backend",
			mutate:  func(c *Config) { c.Telemetry.Backend = "graphite" },
			wantErr: true,
		},
		{
			name:    "zero sweep interval",
			mutate:  func(c *Config) { c.Registration.SweepInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.Commands.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name: "signal critical above warning",
			mutate: func(c *Config) {
				c.Alerts.SignalStrength.Warning = -95
				c.Alerts.SignalStrength.Critical = -80
			},
			wantErr: true,
		},
		{
			name: "error rate critical below warning",
			mutate: func(c *Config) {
				c.Alerts.ErrorRate.Warning = 0.10
				c.Alerts.ErrorRate.Critical = 0.05
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		Registration: RegistrationConfig{SweepInterval: 5},
		Commands: CommandsConfig{
			AckTimeout:     30,
			BackoffInitial: 2,
			BackoffMax:     120,
		},
	}

	if got := cfg.SweepInterval().Seconds(); got != 5 {
		t.Errorf("SweepInterval() = %v, want 5", got)
	}

	if got := cfg.AckTimeout().Seconds(); got != 30 {
		t.Errorf("AckTimeout() = %v, want 30", got)
	}

	if got := cfg.BackoffInitial().Seconds(); got != 2 {
		t.Errorf("BackoffInitial() = %v, want 2", got)
	}

	if got := cfg.BackoffMax().Seconds(); got != 120 {
		t.Errorf("BackoffMax() = %v, want 120", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("CELLFLEET_DATABASE_PATH", "/custom/path.db")
	t.Setenv("CELLFLEET_MQTT_HOST", "mqtt.example.com")
	t.Setenv("CELLFLEET_MQTT_PORT", "8883")
	t.Setenv("CELLFLEET_MQTT_USERNAME", "testuser")
	t.Setenv("CELLFLEET_MQTT_PASSWORD", "testpass")
	t.Setenv("CELLFLEET_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.Telemetry.InfluxDB.Token != "secret-token" {
		t.Errorf("Telemetry.InfluxDB.Token = %q, want %q", cfg.Telemetry.InfluxDB.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Fleet.ID == "" {
		t.Error("defaultConfig should have non-empty Fleet.ID")
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.Commands.MaxAttempts != 3 {
		t.Errorf("defaultConfig Commands.MaxAttempts = %d, want 3", cfg.Commands.MaxAttempts)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
}
