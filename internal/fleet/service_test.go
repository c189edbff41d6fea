package fleet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cellfleet/cellfleet-core/internal/alert"
	"github.com/cellfleet/cellfleet-core/internal/audit"
	"github.com/cellfleet/cellfleet-core/internal/command"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/config"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/mqtt"
	"github.com/cellfleet/cellfleet-core/internal/registry"
	"github.com/cellfleet/cellfleet-core/internal/transport"
)

// fakeBus implements transport.Bus in memory. Inbound messages are
// delivered by invoking the stored wildcard handlers directly.
type fakeBus struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []busMessage
}

type busMessage struct {
	topic   string
	payload []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBus) Publish(topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, busMessage{topic: topic, payload: payload})
	return nil
}

func (b *fakeBus) inject(t *testing.T, topic string, payload []byte) {
	t.Helper()

	b.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range b.handlers {
		if len(filter) > 0 && filter[len(filter)-1] == '+' {
			prefix := filter[:len(filter)-1]
			if len(topic) > len(prefix) && topic[:len(prefix)] == prefix {
				handler = h
				break
			}
		}
	}
	b.mu.Unlock()

	if handler == nil {
		t.Fatalf("no subscription matches %s", topic)
	}
	if err := handler(topic, payload); err != nil {
		t.Fatalf("handler for %s returned %v", topic, err)
	}
}

func (b *fakeBus) publishedTo(topic string) []busMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []busMessage
	for _, m := range b.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// fakeTelemetry records mirror writes.
type fakeTelemetry struct {
	mu       sync.Mutex
	values   []string // "endpoint/object/resource=value"
	signals  []float64
	outcomes []string // "endpoint:status"
}

func (f *fakeTelemetry) WriteResourceValue(endpoint string, objectID, resourceID int, value float64, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = append(f.values, fmt.Sprintf("%s/%d/%d=%g", endpoint, objectID, resourceID, value))
}

func (f *fakeTelemetry) WriteSignalStrength(_ string, rssiDBm float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, rssiDBm)
}

func (f *fakeTelemetry) WriteCommandOutcome(endpoint string, status string, _ int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, endpoint+":"+status)
}

func testConfig() *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{QoS: 1},
		Registration: config.RegistrationConfig{
			SweepInterval:   1,
			DefaultLifetime: 60,
		},
		Commands: config.CommandsConfig{
			MaxAttempts:    3,
			AckTimeout:     2,
			BackoffInitial: 1,
			BackoffMax:     2,
		},
		Alerts: config.AlertsConfig{
			SignalStrength: config.ThresholdConfig{Warning: -95, Critical: -105},
			ErrorRate:      config.ThresholdConfig{Warning: 0.05, Critical: 0.20},
		},
	}
}

func setupService(t *testing.T) (*Service, *fakeBus, *fakeTelemetry) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			endpoint TEXT NOT NULL UNIQUE,
			last_known_address TEXT,
			registration_state TEXT NOT NULL,
			lifetime_seconds INTEGER NOT NULL,
			protocol_version TEXT,
			binding TEXT,
			last_seen_at TEXT,
			epoch INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
		CREATE TABLE registration_epochs (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			opened_at TEXT NOT NULL,
			closed_at TEXT,
			close_reason TEXT
		) STRICT;
		CREATE TABLE resource_descriptors (
			device_id TEXT NOT NULL,
			object_id INTEGER NOT NULL,
			resource_id INTEGER NOT NULL,
			version INTEGER NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			data_type TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (device_id, object_id, resource_id, version)
		) STRICT;
		CREATE TABLE resource_values (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			object_id INTEGER NOT NULL,
			resource_id INTEGER NOT NULL,
			value TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		) STRICT;
		CREATE TABLE commands (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			object_id INTEGER NOT NULL,
			resource_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			not_before TEXT,
			last_error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT
		) STRICT;
		CREATE TABLE alerts (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			is_resolved INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			resolved_at TEXT
		) STRICT;
		CREATE UNIQUE INDEX idx_alerts_unresolved
			ON alerts(device_id, alert_type) WHERE is_resolved = 0;
		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			source TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	bus := newFakeBus()
	telemetry := &fakeTelemetry{}
	svc := New(testConfig(), db, bus, telemetry)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(svc.Stop)

	return svc, bus, telemetry
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling %T: %v", v, err)
	}
	return data
}

// A gateway registers, an operator submits a write, the pump delivers it
// over the bus, the gateway acknowledges, and the command completes with
// an audit entry and a telemetry outcome.
func TestService_CommandRoundTrip(t *testing.T) {
	svc, bus, telemetry := setupService(t)
	topics := mqtt.Topics{}
	ctx := context.Background()

	bus.inject(t, topics.Register("rv50x-01"), mustJSON(t, transport.RegisterMessage{
		Lifetime: 300,
		Version:  "1.1",
		Binding:  "U",
		Address:  "10.64.0.17:5683",
	}))

	devices, err := svc.ListRegisteredDevices(ctx)
	if err != nil {
		t.Fatalf("ListRegisteredDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].Endpoint != "rv50x-01" {
		t.Fatalf("devices = %+v, want single rv50x-01", devices)
	}

	cmd, err := svc.SubmitCommand(ctx, devices[0].ID, 1, 4, command.TypeWrite, `"300"`)
	if err != nil {
		t.Fatalf("SubmitCommand() error = %v", err)
	}

	// The pump may deliver at any moment; the command is either still
	// pending or already picked up.
	pending, err := svc.ListPendingCommands(ctx, devices[0].ID)
	if err != nil {
		t.Fatalf("ListPendingCommands() error = %v", err)
	}
	if len(pending) > 1 {
		t.Fatalf("pending = %d, want at most 1", len(pending))
	}

	cmdTopic := topics.Command("rv50x-01")
	waitFor(t, 5*time.Second, func() bool {
		return len(bus.publishedTo(cmdTopic)) > 0
	}, "command was never delivered to the bus")

	bus.inject(t, topics.Ack("rv50x-01"), mustJSON(t, transport.AckMessage{
		CommandID: cmd.ID,
		Success:   true,
	}))

	done, err := svc.GetCommand(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("GetCommand() error = %v", err)
	}
	if done.Status != command.StatusSucceeded {
		t.Errorf("Status = %q, want %q", done.Status, command.StatusSucceeded)
	}

	trail, err := svc.AuditTrail(ctx, audit.Filter{Action: audit.ActionCommandSucceeded})
	if err != nil {
		t.Fatalf("AuditTrail() error = %v", err)
	}
	if trail.Total != 1 || trail.Logs[0].EntityID != cmd.ID {
		t.Errorf("audit trail = %+v, want one entry for %s", trail, cmd.ID)
	}

	telemetry.mu.Lock()
	outcomes := append([]string(nil), telemetry.outcomes...)
	telemetry.mu.Unlock()
	if len(outcomes) != 1 || outcomes[0] != "rv50x-01:succeeded" {
		t.Errorf("telemetry outcomes = %v, want [rv50x-01:succeeded]", outcomes)
	}
}

// A gateway with a short lifetime goes quiet, the sweeper marks it stale
// and an offline alert is raised; a registration update brings it back
// and the alert auto-resolves.
func TestService_StaleRecoveryResolvesAlert(t *testing.T) {
	svc, bus, _ := setupService(t)
	topics := mqtt.Topics{}
	ctx := context.Background()

	bus.inject(t, topics.Register("rv50x-02"), mustJSON(t, transport.RegisterMessage{
		Lifetime: 1,
	}))

	waitFor(t, 10*time.Second, func() bool {
		alerts, err := svc.ListUnresolvedAlerts(ctx)
		return err == nil && len(alerts) == 1 && alerts[0].Type == alert.TypeOffline
	}, "offline alert was never raised for the quiet gateway")

	device, err := svc.GetDevice(ctx, "rv50x-02")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if device.State != registry.StateStale {
		t.Errorf("State = %q, want %q", device.State, registry.StateStale)
	}

	bus.inject(t, topics.Update("rv50x-02"), mustJSON(t, transport.UpdateMessage{}))

	recovered, err := svc.GetDevice(ctx, "rv50x-02")
	if err != nil {
		t.Fatalf("GetDevice() after update error = %v", err)
	}
	if recovered.State != registry.StateRegistered {
		t.Errorf("State = %q, want %q", recovered.State, registry.StateRegistered)
	}

	alerts, err := svc.ListUnresolvedAlerts(ctx)
	if err != nil {
		t.Fatalf("ListUnresolvedAlerts() error = %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("unresolved alerts after recovery = %+v, want none", alerts)
	}
}

func TestService_NotifyFeedsAlertsAndTelemetry(t *testing.T) {
	svc, bus, telemetry := setupService(t)
	topics := mqtt.Topics{}
	ctx := context.Background()

	bus.inject(t, topics.Register("gw-signal"), mustJSON(t, transport.RegisterMessage{Lifetime: 300}))
	device, err := svc.GetDevice(ctx, "gw-signal")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}

	// Critical signal strength raises an alert and feeds both mirror paths.
	bus.inject(t, topics.Notify("gw-signal"), mustJSON(t, transport.NotifyMessage{
		ObjectID:   4,
		ResourceID: 2,
		Value:      json.RawMessage(`-110`),
		ObservedAt: time.Now().UTC(),
	}))

	alerts, err := svc.ListUnresolvedAlerts(ctx)
	if err != nil {
		t.Fatalf("ListUnresolvedAlerts() error = %v", err)
	}
	if len(alerts) != 1 || alerts[0].Type != alert.TypeLowSignal || alerts[0].Severity != alert.SeverityCritical {
		t.Fatalf("alerts = %+v, want one critical low_signal", alerts)
	}

	latest, err := svc.LatestResourceValue(ctx, device.ID, 4, 2)
	if err != nil {
		t.Fatalf("LatestResourceValue() error = %v", err)
	}
	if latest.Value != "-110" {
		t.Errorf("Value = %q, want -110", latest.Value)
	}

	telemetry.mu.Lock()
	signals := append([]float64(nil), telemetry.signals...)
	values := append([]string(nil), telemetry.values...)
	telemetry.mu.Unlock()
	if len(signals) != 1 || signals[0] != -110 {
		t.Errorf("signal mirror = %v, want [-110]", signals)
	}
	if len(values) != 1 || values[0] != "gw-signal/4/2=-110" {
		t.Errorf("value mirror = %v, want [gw-signal/4/2=-110]", values)
	}

	// Recovery resolves the alert.
	bus.inject(t, topics.Notify("gw-signal"), mustJSON(t, transport.NotifyMessage{
		ObjectID:   4,
		ResourceID: 2,
		Value:      json.RawMessage(`-60`),
		ObservedAt: time.Now().UTC(),
	}))

	alerts, err = svc.ListUnresolvedAlerts(ctx)
	if err != nil {
		t.Fatalf("ListUnresolvedAlerts() error = %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("alerts after recovery = %+v, want none", alerts)
	}
}

func TestService_RegistrationLifecycleAudited(t *testing.T) {
	svc, bus, _ := setupService(t)
	topics := mqtt.Topics{}
	ctx := context.Background()

	bus.inject(t, topics.Register("gw-audit"), mustJSON(t, transport.RegisterMessage{Lifetime: 300}))
	bus.inject(t, topics.Deregister("gw-audit"), nil)

	device, err := svc.GetDevice(ctx, "gw-audit")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}

	trail, err := svc.AuditTrail(ctx, audit.Filter{EntityType: audit.EntityDevice, EntityID: device.ID})
	if err != nil {
		t.Fatalf("AuditTrail() error = %v", err)
	}
	if trail.Total != 2 {
		t.Fatalf("audit entries = %d, want 2 (registered, deregistered)", trail.Total)
	}

	// The registration history survives a re-registration as a new epoch.
	bus.inject(t, topics.Register("gw-audit"), mustJSON(t, transport.RegisterMessage{Lifetime: 300}))
	epochs, err := svc.DeviceEpochs(ctx, device.ID)
	if err != nil {
		t.Fatalf("DeviceEpochs() error = %v", err)
	}
	if len(epochs) != 2 {
		t.Errorf("epochs = %d, want 2", len(epochs))
	}
}

func TestService_NonNumericValueNotMirrored(t *testing.T) {
	svc, bus, telemetry := setupService(t)
	topics := mqtt.Topics{}

	bus.inject(t, topics.Register("gw-text"), mustJSON(t, transport.RegisterMessage{Lifetime: 300}))
	bus.inject(t, topics.Notify("gw-text"), mustJSON(t, transport.NotifyMessage{
		ObjectID:   3,
		ResourceID: 0,
		Value:      json.RawMessage(`"Sierra Wireless"`),
		ObservedAt: time.Now().UTC(),
	}))

	telemetry.mu.Lock()
	mirrored := len(telemetry.values)
	telemetry.mu.Unlock()
	if mirrored != 0 {
		t.Errorf("mirrored values = %d, want 0 for non-numeric payload", mirrored)
	}

	// The value itself is still stored.
	device, err := svc.GetDevice(context.Background(), "gw-text")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	latest, err := svc.LatestResourceValue(context.Background(), device.ID, 3, 0)
	if err != nil {
		t.Fatalf("LatestResourceValue() error = %v", err)
	}
	if latest.Value != `"Sierra Wireless"` {
		t.Errorf("Value = %q, want stored string payload", latest.Value)
	}
}
