package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByEndpoint retrieves a device by its endpoint identity.
	// Returns ErrDeviceNotFound if no record exists.
	GetByEndpoint(ctx context.Context, endpoint string) (*Device, error)

	// GetByID retrieves a device by its system-generated identifier.
	// Returns ErrDeviceNotFound if no record exists.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByState retrieves all devices in a specific registration state.
	ListByState(ctx context.Context, state State) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the endpoint is already taken.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// OpenEpoch appends a new registration epoch row for a device.
	OpenEpoch(ctx context.Context, deviceID string, epoch int64, openedAt time.Time) error

	// CloseEpoch stamps the close time and reason on an open epoch row.
	// Closing an already-closed or missing epoch is a no-op.
	CloseEpoch(ctx context.Context, deviceID string, epoch int64, closedAt time.Time, reason string) error

	// ListEpochs returns a device's registration epochs, newest first.
	ListEpochs(ctx context.Context, deviceID string) ([]Epoch, error)
}

// GenerateID returns a new unique device identifier.
func GenerateID() string {
	return uuid.New().String()
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, endpoint, last_known_address, registration_state,
	lifetime_seconds, protocol_version, binding, last_seen_at, epoch,
	created_at, updated_at`

// GetByEndpoint retrieves a device by its endpoint identity.
func (r *SQLiteRepository) GetByEndpoint(ctx context.Context, endpoint string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE endpoint = ?`

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, endpoint))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by endpoint: %w", err)
	}
	return device, nil
}

// GetByID retrieves a device by its system-generated identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY endpoint`
	return r.queryDevices(ctx, query)
}

// ListByState retrieves all devices in a specific registration state.
func (r *SQLiteRepository) ListByState(ctx context.Context, state State) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE registration_state = ? ORDER BY endpoint`
	return r.queryDevices(ctx, query, string(state))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, endpoint, last_known_address, registration_state,
			lifetime_seconds, protocol_version, binding, last_seen_at, epoch,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.Endpoint,
		nullableString(device.LastKnownAddress),
		string(device.State),
		device.LifetimeSeconds,
		nullableString(device.ProtocolVersion),
		nullableString(device.Binding),
		nullableTime(device.LastSeenAt),
		device.Epoch,
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			last_known_address = ?, registration_state = ?, lifetime_seconds = ?,
			protocol_version = ?, binding = ?, last_seen_at = ?, epoch = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		nullableString(device.LastKnownAddress),
		string(device.State),
		device.LifetimeSeconds,
		nullableString(device.ProtocolVersion),
		nullableString(device.Binding),
		nullableTime(device.LastSeenAt),
		device.Epoch,
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// OpenEpoch appends a new registration epoch row for a device.
func (r *SQLiteRepository) OpenEpoch(ctx context.Context, deviceID string, epoch int64, openedAt time.Time) error {
	query := `
		INSERT INTO registration_epochs (id, device_id, epoch, opened_at)
		VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		"epo-"+uuid.NewString()[:8],
		deviceID,
		epoch,
		openedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting registration epoch: %w", err)
	}
	return nil
}

// CloseEpoch stamps the close time and reason on an open epoch row.
func (r *SQLiteRepository) CloseEpoch(ctx context.Context, deviceID string, epoch int64, closedAt time.Time, reason string) error {
	query := `
		UPDATE registration_epochs
		SET closed_at = ?, close_reason = ?
		WHERE device_id = ? AND epoch = ? AND closed_at IS NULL`

	_, err := r.db.ExecContext(ctx, query,
		closedAt.UTC().Format(time.RFC3339),
		reason,
		deviceID,
		epoch,
	)
	if err != nil {
		return fmt.Errorf("closing registration epoch: %w", err)
	}
	return nil
}

// ListEpochs returns a device's registration epochs, newest first.
func (r *SQLiteRepository) ListEpochs(ctx context.Context, deviceID string) ([]Epoch, error) {
	query := `
		SELECT id, device_id, epoch, opened_at, closed_at, close_reason
		FROM registration_epochs
		WHERE device_id = ?
		ORDER BY epoch DESC`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying registration epochs: %w", err)
	}
	defer rows.Close()

	var epochs []Epoch
	for rows.Next() {
		var e Epoch
		var openedAt string
		var closedAt, closeReason sql.NullString

		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Epoch, &openedAt, &closedAt, &closeReason); err != nil {
			return nil, fmt.Errorf("scanning registration epoch: %w", err)
		}

		e.OpenedAt, err = time.Parse(time.RFC3339, openedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing opened_at: %w", err)
		}
		if closedAt.Valid {
			t, err := time.Parse(time.RFC3339, closedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing closed_at: %w", err)
			}
			e.ClosedAt = &t
		}
		if closeReason.Valid {
			e.CloseReason = closeReason.String
		}

		epochs = append(epochs, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registration epochs: %w", err)
	}

	return epochs, nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var address, protocolVersion, binding, lastSeenAt sql.NullString
	var state, createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Endpoint,
		&address,
		&state,
		&d.LifetimeSeconds,
		&protocolVersion,
		&binding,
		&lastSeenAt,
		&d.Epoch,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.State = State(state)

	if address.Valid {
		d.LastKnownAddress = address.String
	}
	if protocolVersion.Valid {
		d.ProtocolVersion = protocolVersion.String
	}
	if binding.Valid {
		d.Binding = binding.String
	}
	if lastSeenAt.Valid {
		t, err := time.Parse(time.RFC3339, lastSeenAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen_at: %w", err)
		}
		d.LastSeenAt = &t
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

// nullableString returns a sql.NullString for optional strings.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
