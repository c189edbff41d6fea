package influxdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cellfleet/cellfleet-core/internal/infrastructure/config"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/influxdb"
)

// devConfig matches the InfluxDB instance from docker-compose.yml.
func devConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "cellfleet-dev-token",
		Org:           "cellfleet",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectDev connects to the local dev server, skipping the test when
// it is not running.
func connectDev(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck
	return client
}

// captureWriteErrors registers an error callback and returns a func
// that fails the test if any async write error arrived.
func captureWriteErrors(t *testing.T, client *influxdb.Client) func() {
	t.Helper()
	var mu sync.Mutex
	var writeErr error
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})
	return func() {
		t.Helper()
		client.Flush()
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		if writeErr != nil {
			t.Errorf("async write error = %v", writeErr)
		}
	}
}

func TestConnectDisabled(t *testing.T) {
	cfg := devConfig()
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	cfg := devConfig()
	cfg.URL = "http://127.0.0.1:59999"

	if _, err := influxdb.Connect(cfg); err == nil {
		t.Fatal("Connect() should fail for an unreachable server")
	}
}

func TestConnect(t *testing.T) {
	client := connectDev(t, devConfig())
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnectBatchDefaults(t *testing.T) {
	cfg := devConfig()
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client := connectDev(t, cfg)
	if !client.IsConnected() {
		t.Error("IsConnected() = false with defaulted batch settings")
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectDev(t, devConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := client.HealthCheck(cancelled); err == nil {
		t.Error("HealthCheck() with cancelled context should fail")
	}
}

func TestWrites(t *testing.T) {
	client := connectDev(t, devConfig())

	t.Run("resource value", func(t *testing.T) {
		verify := captureWriteErrors(t, client)
		client.WriteResourceValue("urn:imei:000000000000001", 4, 2, -87, time.Now())
		verify()
	})

	t.Run("signal strength", func(t *testing.T) {
		verify := captureWriteErrors(t, client)
		client.WriteSignalStrength("urn:imei:000000000000002", -101.5)
		verify()
	})

	t.Run("command outcome", func(t *testing.T) {
		verify := captureWriteErrors(t, client)
		client.WriteCommandOutcome("urn:imei:000000000000003", "succeeded", 2)
		verify()
	})

	t.Run("raw point", func(t *testing.T) {
		verify := captureWriteErrors(t, client)
		client.WritePoint("custom_measurement",
			map[string]string{"source": "test"},
			map[string]interface{}{"value": 99.9, "count": 5})
		verify()
	})

	t.Run("raw point with timestamp", func(t *testing.T) {
		verify := captureWriteErrors(t, client)
		client.WritePointWithTime("custom_measurement",
			map[string]string{"source": "test-with-time"},
			map[string]interface{}{"value": 88.8},
			time.Now().Add(-time.Hour))
		verify()
	})
}

func TestClose(t *testing.T) {
	client, err := influxdb.Connect(devConfig())
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}

	client.WriteResourceValue("urn:imei:close-test", 3, 9, 87.0, time.Now())

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Flush after close must be a no-op, not a panic.
	client.Flush()
}
