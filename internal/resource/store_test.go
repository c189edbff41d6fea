package resource

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestStore creates a Store over an in-memory SQLite database.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
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
		CREATE INDEX idx_resource_values_latest
			ON resource_values(device_id, object_id, resource_id, observed_at DESC);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return NewStore(NewSQLiteRepository(db))
}

func TestStore_RecordAndLatest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	observed := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

	recorded, err := store.RecordValue(ctx, "dev-1", 4, 2, "-71.5", observed)
	if err != nil {
		t.Fatalf("RecordValue() error = %v", err)
	}
	if recorded.ID == 0 {
		t.Error("ID = 0, want assigned row id")
	}

	latest, err := store.Latest(ctx, "dev-1", 4, 2)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Value != "-71.5" {
		t.Errorf("Value = %q, want -71.5", latest.Value)
	}
	if !latest.ObservedAt.Equal(observed) {
		t.Errorf("ObservedAt = %v, want %v", latest.ObservedAt, observed)
	}
}

func TestStore_Latest_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Latest(context.Background(), "dev-none", 4, 2)
	if !errors.Is(err, ErrValueNotFound) {
		t.Errorf("Latest() error = %v, want ErrValueNotFound", err)
	}
}

func TestStore_RecordValue_Invalid(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.RecordValue(ctx, "", 4, 2, "1", time.Now()); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("RecordValue() empty device error = %v, want ErrInvalidValue", err)
	}
	if _, err := store.RecordValue(ctx, "dev-1", 4, 2, "", time.Now()); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("RecordValue() empty payload error = %v, want ErrInvalidValue", err)
	}
}

func TestStore_LatestDefinedByObservedAt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

	// Insert the newest observation first, then an older one. Latest must
	// follow the observation timestamps, not insertion order.
	if _, err := store.RecordValue(ctx, "dev-ooo", 4, 2, "-65", base.Add(time.Minute)); err != nil {
		t.Fatalf("RecordValue() error = %v", err)
	}
	if _, err := store.RecordValue(ctx, "dev-ooo", 4, 2, "-80", base); err != nil {
		t.Fatalf("RecordValue() late arrival error = %v", err)
	}

	latest, err := store.Latest(ctx, "dev-ooo", 4, 2)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Value != "-65" {
		t.Errorf("Value = %q, want -65 (greatest observed_at)", latest.Value)
	}
}

func TestStore_History(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if _, err := store.RecordValue(ctx, "dev-hist", 4, 2, "-70", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("RecordValue(%d) error = %v", i, err)
		}
	}

	history, err := store.History(ctx, "dev-hist", 4, 2, 3, nil)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("History() count = %d, want 3", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].ObservedAt.After(history[i-1].ObservedAt) {
			t.Errorf("history not newest first at index %d", i)
		}
	}
	if !history[0].ObservedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("history[0].ObservedAt = %v, want newest", history[0].ObservedAt)
	}

	since := base.Add(3 * time.Minute)
	bounded, err := store.History(ctx, "dev-hist", 4, 2, 0, &since)
	if err != nil {
		t.Fatalf("History() with since error = %v", err)
	}
	if len(bounded) != 2 {
		t.Errorf("History() since count = %d, want 2", len(bounded))
	}
}

func TestStore_HistoryLimitClamped(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.RecordValue(ctx, "dev-clamp", 4, 2, "1", time.Now()); err != nil {
		t.Fatalf("RecordValue() error = %v", err)
	}

	// A huge limit must not error; the cap is applied internally.
	if _, err := store.History(ctx, "dev-clamp", 4, 2, 1_000_000, nil); err != nil {
		t.Errorf("History() with oversized limit error = %v", err)
	}
}

func TestStore_Describe_Versioning(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := store.Describe(ctx, "dev-desc", 4, 2, "rssi", KindVariable, DataTypeFloat)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if first.Version != 1 {
		t.Errorf("Version = %d, want 1", first.Version)
	}

	// Identical re-description is a no-op.
	same, err := store.Describe(ctx, "dev-desc", 4, 2, "rssi", KindVariable, DataTypeFloat)
	if err != nil {
		t.Fatalf("Describe() identical error = %v", err)
	}
	if same.Version != 1 {
		t.Errorf("identical re-describe Version = %d, want 1", same.Version)
	}

	// A changed data type inserts the next version.
	next, err := store.Describe(ctx, "dev-desc", 4, 2, "rssi", KindVariable, DataTypeInteger)
	if err != nil {
		t.Fatalf("Describe() changed error = %v", err)
	}
	if next.Version != 2 {
		t.Errorf("changed re-describe Version = %d, want 2", next.Version)
	}

	current, err := store.Descriptor(ctx, "dev-desc", 4, 2)
	if err != nil {
		t.Fatalf("Descriptor() error = %v", err)
	}
	if current.Version != 2 || current.DataType != DataTypeInteger {
		t.Errorf("Descriptor() = v%d/%s, want v2/%s", current.Version, current.DataType, DataTypeInteger)
	}
}

func TestStore_Describe_Invalid(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		resource string
		kind     Kind
		dataType string
	}{
		{"empty name", "", KindVariable, DataTypeFloat},
		{"unknown kind", "rssi", Kind("gauge"), DataTypeFloat},
		{"empty data type", "rssi", KindVariable, ""},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Describe(ctx, "dev-bad", 4, 2, tt.resource, tt.kind, tt.dataType)
			if !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("Describe() error = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}

func TestStore_Descriptors_NewestVersionPerResource(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Describe(ctx, "dev-list", 4, 2, "rssi", KindVariable, DataTypeFloat); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if _, err := store.Describe(ctx, "dev-list", 4, 2, "rssi_dbm", KindVariable, DataTypeFloat); err != nil {
		t.Fatalf("Describe() rename error = %v", err)
	}
	if _, err := store.Describe(ctx, "dev-list", 3, 0, "manufacturer", KindVariable, DataTypeString); err != nil {
		t.Fatalf("Describe() second resource error = %v", err)
	}

	descriptors, err := store.Descriptors(ctx, "dev-list")
	if err != nil {
		t.Fatalf("Descriptors() error = %v", err)
	}
	if len(descriptors) != 2 {
		t.Fatalf("Descriptors() count = %d, want 2 (one per resource)", len(descriptors))
	}
	for _, d := range descriptors {
		if d.ObjectID == 4 && d.ResourceID == 2 {
			if d.Version != 2 || d.Name != "rssi_dbm" {
				t.Errorf("resource 4/2 = v%d %q, want v2 rssi_dbm", d.Version, d.Name)
			}
		}
	}
}

func TestStore_Subscribe(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var events []Event
	store.Subscribe(func(evt Event) {
		events = append(events, evt)
	})

	if _, err := store.RecordValue(ctx, "dev-sub", 4, 2, "-70", time.Now().UTC()); err != nil {
		t.Fatalf("RecordValue() error = %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Value.DeviceID != "dev-sub" || events[0].Value.Value != "-70" {
		t.Errorf("event = %+v, want dev-sub/-70", events[0].Value)
	}
}
