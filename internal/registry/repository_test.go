package registry

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the registry tables.
func setupTestDB(t *testing.T) *sql.DB {
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
		CREATE INDEX idx_devices_state ON devices(registration_state);
		CREATE TABLE registration_epochs (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL REFERENCES devices(id),
			epoch INTEGER NOT NULL,
			opened_at TEXT NOT NULL,
			closed_at TEXT,
			close_reason TEXT
		) STRICT;
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testDevice returns a valid device for repository tests.
func testDevice(endpoint string) *Device {
	now := time.Now().UTC().Truncate(time.Second)
	return &Device{
		ID:               GenerateID(),
		Endpoint:         endpoint,
		LastKnownAddress: "10.64.0.17:5683",
		State:            StateRegistered,
		LifetimeSeconds:  60,
		ProtocolVersion:  "1.1",
		Binding:          "U",
		LastSeenAt:       &now,
		Epoch:            1,
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	device := testDevice("urn:imei:990000862471854")
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByEndpoint(ctx, device.Endpoint)
	if err != nil {
		t.Fatalf("GetByEndpoint() error = %v", err)
	}

	if got.ID != device.ID {
		t.Errorf("ID = %q, want %q", got.ID, device.ID)
	}
	if got.State != StateRegistered {
		t.Errorf("State = %q, want %q", got.State, StateRegistered)
	}
	if got.LifetimeSeconds != 60 {
		t.Errorf("LifetimeSeconds = %d, want 60", got.LifetimeSeconds)
	}
	if got.LastSeenAt == nil || !got.LastSeenAt.Equal(*device.LastSeenAt) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, device.LastSeenAt)
	}
	if got.Epoch != 1 {
		t.Errorf("Epoch = %d, want 1", got.Epoch)
	}

	byID, err := repo.GetByID(ctx, device.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.Endpoint != device.Endpoint {
		t.Errorf("Endpoint = %q, want %q", byID.Endpoint, device.Endpoint)
	}
}

func TestSQLiteRepository_GetByEndpoint_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	_, err := repo.GetByEndpoint(context.Background(), "urn:imei:nope")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByEndpoint() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_Create_DuplicateEndpoint(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("gw-dup")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(ctx, testDevice("gw-dup"))
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Create() duplicate error = %v, want ErrDeviceExists", err)
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	device := testDevice("gw-update")
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	device.State = StateStale
	device.LastKnownAddress = "10.64.0.99:5683"
	device.Epoch = 2
	if err := repo.Update(ctx, device); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByEndpoint(ctx, device.Endpoint)
	if err != nil {
		t.Fatalf("GetByEndpoint() error = %v", err)
	}
	if got.State != StateStale {
		t.Errorf("State = %q, want %q", got.State, StateStale)
	}
	if got.LastKnownAddress != "10.64.0.99:5683" {
		t.Errorf("LastKnownAddress = %q, want updated address", got.LastKnownAddress)
	}
	if got.Epoch != 2 {
		t.Errorf("Epoch = %d, want 2", got.Epoch)
	}
}

func TestSQLiteRepository_Update_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	device := testDevice("gw-ghost")
	err := repo.Update(context.Background(), device)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_ListByState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	registered := testDevice("gw-registered")
	stale := testDevice("gw-stale")
	stale.State = StateStale

	for _, d := range []*Device{registered, stale} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) error = %v", d.Endpoint, err)
		}
	}

	got, err := repo.ListByState(ctx, StateRegistered)
	if err != nil {
		t.Fatalf("ListByState() error = %v", err)
	}
	if len(got) != 1 || got[0].Endpoint != "gw-registered" {
		t.Errorf("ListByState(registered) = %v, want [gw-registered]", got)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() count = %d, want 2", len(all))
	}
}

func TestSQLiteRepository_Epochs(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	device := testDevice("gw-epochs")
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	opened := time.Now().UTC().Truncate(time.Second)
	if err := repo.OpenEpoch(ctx, device.ID, 1, opened); err != nil {
		t.Fatalf("OpenEpoch() error = %v", err)
	}

	closed := opened.Add(10 * time.Minute)
	if err := repo.CloseEpoch(ctx, device.ID, 1, closed, "deregister"); err != nil {
		t.Fatalf("CloseEpoch() error = %v", err)
	}

	if err := repo.OpenEpoch(ctx, device.ID, 2, closed.Add(time.Minute)); err != nil {
		t.Fatalf("OpenEpoch() second error = %v", err)
	}

	epochs, err := repo.ListEpochs(ctx, device.ID)
	if err != nil {
		t.Fatalf("ListEpochs() error = %v", err)
	}
	if len(epochs) != 2 {
		t.Fatalf("ListEpochs() count = %d, want 2", len(epochs))
	}

	// Newest first
	if epochs[0].Epoch != 2 {
		t.Errorf("epochs[0].Epoch = %d, want 2", epochs[0].Epoch)
	}
	if epochs[0].ClosedAt != nil {
		t.Errorf("epochs[0].ClosedAt = %v, want nil (still open)", epochs[0].ClosedAt)
	}
	if epochs[1].ClosedAt == nil || !epochs[1].ClosedAt.Equal(closed) {
		t.Errorf("epochs[1].ClosedAt = %v, want %v", epochs[1].ClosedAt, closed)
	}
	if epochs[1].CloseReason != "deregister" {
		t.Errorf("epochs[1].CloseReason = %q, want deregister", epochs[1].CloseReason)
	}
}

func TestSQLiteRepository_CloseEpoch_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	device := testDevice("gw-epoch-idem")
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	opened := time.Now().UTC().Truncate(time.Second)
	if err := repo.OpenEpoch(ctx, device.ID, 1, opened); err != nil {
		t.Fatalf("OpenEpoch() error = %v", err)
	}

	first := opened.Add(time.Minute)
	if err := repo.CloseEpoch(ctx, device.ID, 1, first, "deregister"); err != nil {
		t.Fatalf("CloseEpoch() error = %v", err)
	}

	// A second close must not overwrite the recorded boundary.
	if err := repo.CloseEpoch(ctx, device.ID, 1, first.Add(time.Hour), "eviction"); err != nil {
		t.Fatalf("CloseEpoch() second error = %v", err)
	}

	epochs, err := repo.ListEpochs(ctx, device.ID)
	if err != nil {
		t.Fatalf("ListEpochs() error = %v", err)
	}
	if len(epochs) != 1 {
		t.Fatalf("ListEpochs() count = %d, want 1", len(epochs))
	}
	if !epochs[0].ClosedAt.Equal(first) {
		t.Errorf("ClosedAt = %v, want %v (first close wins)", epochs[0].ClosedAt, first)
	}
	if epochs[0].CloseReason != "deregister" {
		t.Errorf("CloseReason = %q, want deregister", epochs[0].CloseReason)
	}
}
