package resource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for resource persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// AppendValue inserts a new observation row. Rows are append-only.
	AppendValue(ctx context.Context, value *Value) error

	// LatestValue returns the observation with the greatest observed_at
	// for a resource. Returns ErrValueNotFound if none exists.
	LatestValue(ctx context.Context, deviceID string, objectID, resourceID int) (*Value, error)

	// History returns observations for a resource ordered by observed_at
	// descending, at most limit rows, optionally bounded below by since.
	History(ctx context.Context, deviceID string, objectID, resourceID, limit int, since *time.Time) ([]Value, error)

	// LatestDescriptor returns the newest descriptor version for a
	// resource. Returns ErrDescriptorNotFound if none exists.
	LatestDescriptor(ctx context.Context, deviceID string, objectID, resourceID int) (*Descriptor, error)

	// InsertDescriptor appends a new descriptor version row.
	InsertDescriptor(ctx context.Context, descriptor *Descriptor) error

	// ListDescriptors returns the newest descriptor version of every
	// resource known for a device.
	ListDescriptors(ctx context.Context, deviceID string) ([]Descriptor, error)
}

// timeLayout keeps fractional seconds at fixed width so observed_at sorts
// lexicographically. RFC3339Nano trims trailing zeros and would not.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// AppendValue inserts a new observation row.
func (r *SQLiteRepository) AppendValue(ctx context.Context, value *Value) error {
	query := `
		INSERT INTO resource_values (
			device_id, object_id, resource_id, value, observed_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		value.DeviceID,
		value.ObjectID,
		value.ResourceID,
		value.Value,
		value.ObservedAt.UTC().Format(timeLayout),
		value.RecordedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting resource value: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading resource value id: %w", err)
	}
	value.ID = id

	return nil
}

const valueColumns = `id, device_id, object_id, resource_id, value, observed_at, recorded_at`

// LatestValue returns the observation with the greatest observed_at.
func (r *SQLiteRepository) LatestValue(ctx context.Context, deviceID string, objectID, resourceID int) (*Value, error) {
	query := `
		SELECT ` + valueColumns + `
		FROM resource_values
		WHERE device_id = ? AND object_id = ? AND resource_id = ?
		ORDER BY observed_at DESC
		LIMIT 1`

	value, err := scanValue(r.db.QueryRowContext(ctx, query, deviceID, objectID, resourceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrValueNotFound
		}
		return nil, fmt.Errorf("querying latest resource value: %w", err)
	}
	return value, nil
}

// History returns observations newest first.
func (r *SQLiteRepository) History(ctx context.Context, deviceID string, objectID, resourceID, limit int, since *time.Time) ([]Value, error) {
	query := `
		SELECT ` + valueColumns + `
		FROM resource_values
		WHERE device_id = ? AND object_id = ? AND resource_id = ?`
	args := []any{deviceID, objectID, resourceID}

	if since != nil {
		query += ` AND observed_at >= ?`
		args = append(args, since.UTC().Format(timeLayout))
	}

	query += ` ORDER BY observed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying resource value history: %w", err)
	}
	defer rows.Close()

	var values []Value
	for rows.Next() {
		value, err := scanValue(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning resource value: %w", err)
		}
		values = append(values, *value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resource values: %w", err)
	}

	return values, nil
}

const descriptorColumns = `device_id, object_id, resource_id, version, name, kind, data_type, created_at`

// LatestDescriptor returns the newest descriptor version for a resource.
func (r *SQLiteRepository) LatestDescriptor(ctx context.Context, deviceID string, objectID, resourceID int) (*Descriptor, error) {
	query := `
		SELECT ` + descriptorColumns + `
		FROM resource_descriptors
		WHERE device_id = ? AND object_id = ? AND resource_id = ?
		ORDER BY version DESC
		LIMIT 1`

	descriptor, err := scanDescriptor(r.db.QueryRowContext(ctx, query, deviceID, objectID, resourceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDescriptorNotFound
		}
		return nil, fmt.Errorf("querying resource descriptor: %w", err)
	}
	return descriptor, nil
}

// InsertDescriptor appends a new descriptor version row.
func (r *SQLiteRepository) InsertDescriptor(ctx context.Context, descriptor *Descriptor) error {
	query := `
		INSERT INTO resource_descriptors (
			device_id, object_id, resource_id, version, name, kind, data_type, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		descriptor.DeviceID,
		descriptor.ObjectID,
		descriptor.ResourceID,
		descriptor.Version,
		descriptor.Name,
		string(descriptor.Kind),
		descriptor.DataType,
		descriptor.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting resource descriptor: %w", err)
	}
	return nil
}

// ListDescriptors returns the newest descriptor version of every resource
// known for a device.
func (r *SQLiteRepository) ListDescriptors(ctx context.Context, deviceID string) ([]Descriptor, error) {
	query := `
		SELECT ` + descriptorColumns + `
		FROM resource_descriptors
		WHERE device_id = ?
			AND version = (
				SELECT MAX(version) FROM resource_descriptors inner_rd
				WHERE inner_rd.device_id = resource_descriptors.device_id
					AND inner_rd.object_id = resource_descriptors.object_id
					AND inner_rd.resource_id = resource_descriptors.resource_id
			)
		ORDER BY object_id, resource_id`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying resource descriptors: %w", err)
	}
	defer rows.Close()

	var descriptors []Descriptor
	for rows.Next() {
		descriptor, err := scanDescriptor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning resource descriptor: %w", err)
		}
		descriptors = append(descriptors, *descriptor)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resource descriptors: %w", err)
	}

	return descriptors, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanValue scans a row or rows result into a Value.
func scanValue(scanner rowScanner) (*Value, error) {
	var v Value
	var observedAt, recordedAt string

	if err := scanner.Scan(&v.ID, &v.DeviceID, &v.ObjectID, &v.ResourceID, &v.Value, &observedAt, &recordedAt); err != nil {
		return nil, err
	}

	var err error
	v.ObservedAt, err = time.Parse(time.RFC3339Nano, observedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing observed_at: %w", err)
	}
	v.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing recorded_at: %w", err)
	}

	return &v, nil
}

// scanDescriptor scans a row or rows result into a Descriptor.
func scanDescriptor(scanner rowScanner) (*Descriptor, error) {
	var d Descriptor
	var kind, createdAt string

	if err := scanner.Scan(&d.DeviceID, &d.ObjectID, &d.ResourceID, &d.Version, &d.Name, &kind, &d.DataType, &createdAt); err != nil {
		return nil, err
	}

	d.Kind = Kind(kind)

	var err error
	d.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &d, nil
}
