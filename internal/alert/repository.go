package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for alert persistence operations.
type Repository interface {
	// Create inserts a new alert. Returns ErrDuplicateUnresolved if an
	// unresolved alert of the same type already exists for the device
	// (enforced by a partial unique index).
	Create(ctx context.Context, alert *Alert) error

	// Get retrieves an alert by id.
	// Returns ErrAlertNotFound if no record exists.
	Get(ctx context.Context, id string) (*Alert, error)

	// GetUnresolved retrieves the unresolved alert of a given type for a
	// device. Returns ErrAlertNotFound if none exists.
	GetUnresolved(ctx context.Context, deviceID string, alertType Type) (*Alert, error)

	// Resolve marks an alert resolved at the given time.
	// Resolving an already-resolved alert is a no-op.
	// Returns ErrAlertNotFound if the alert does not exist.
	Resolve(ctx context.Context, id string, resolvedAt time.Time) error

	// ListUnresolved returns all unresolved alerts, newest first.
	ListUnresolved(ctx context.Context) ([]Alert, error)

	// ListByDevice returns a device's alerts, newest first, at most
	// limit rows.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Alert, error)
}

// GenerateID returns a new unique alert identifier.
func GenerateID() string {
	return "alt-" + uuid.NewString()[:8]
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const alertColumns = `id, device_id, alert_type, severity, message, is_resolved, created_at, resolved_at`

// Create inserts a new alert.
func (r *SQLiteRepository) Create(ctx context.Context, alert *Alert) error {
	if alert.ID == "" {
		alert.ID = GenerateID()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO alerts (
			id, device_id, alert_type, severity, message, is_resolved, created_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		alert.ID,
		alert.DeviceID,
		string(alert.Type),
		string(alert.Severity),
		alert.Message,
		boolToInt(alert.IsResolved),
		alert.CreatedAt.Format(time.RFC3339),
		nullableTime(alert.ResolvedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateUnresolved
		}
		return fmt.Errorf("inserting alert: %w", err)
	}

	return nil
}

// Get retrieves an alert by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("querying alert: %w", err)
	}
	return alert, nil
}

// GetUnresolved retrieves the unresolved alert of a given type for a device.
func (r *SQLiteRepository) GetUnresolved(ctx context.Context, deviceID string, alertType Type) (*Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE device_id = ? AND alert_type = ? AND is_resolved = 0`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, deviceID, string(alertType)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("querying unresolved alert: %w", err)
	}
	return alert, nil
}

// Resolve marks an alert resolved at the given time.
func (r *SQLiteRepository) Resolve(ctx context.Context, id string, resolvedAt time.Time) error {
	query := `
		UPDATE alerts
		SET is_resolved = 1, resolved_at = ?
		WHERE id = ? AND is_resolved = 0`

	result, err := r.db.ExecContext(ctx, query, resolvedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("resolving alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish missing from already resolved.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

// ListUnresolved returns all unresolved alerts, newest first.
func (r *SQLiteRepository) ListUnresolved(ctx context.Context) ([]Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE is_resolved = 0
		ORDER BY created_at DESC`
	return r.queryAlerts(ctx, query)
}

// ListByDevice returns a device's alerts, newest first.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE device_id = ?
		ORDER BY created_at DESC
		LIMIT ?`
	return r.queryAlerts(ctx, query, deviceID, limit)
}

// queryAlerts executes a query and returns a slice of alerts.
func (r *SQLiteRepository) queryAlerts(ctx context.Context, query string, args ...any) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}

	return alerts, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAlert scans a row or rows result into an Alert.
func scanAlert(scanner rowScanner) (*Alert, error) {
	var a Alert
	var alertType, severity, createdAt string
	var isResolved int
	var resolvedAt sql.NullString

	err := scanner.Scan(
		&a.ID,
		&a.DeviceID,
		&alertType,
		&severity,
		&a.Message,
		&isResolved,
		&createdAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = Type(alertType)
	a.Severity = Severity(severity)
	a.IsResolved = isResolved != 0

	a.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if resolvedAt.Valid {
		t, err := time.Parse(time.RFC3339, resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing resolved_at: %w", err)
		}
		a.ResolvedAt = &t
	}

	return &a, nil
}

// boolToInt converts a bool to SQLite's integer representation.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableTime returns a sql.NullString for optional time pointers.
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
