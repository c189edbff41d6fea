package command

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for command persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Create inserts a new command.
	Create(ctx context.Context, cmd *Command) error

	// Get retrieves a command by id.
	// Returns ErrCommandNotFound if no record exists.
	Get(ctx context.Context, id string) (*Command, error)

	// Update modifies an existing command.
	// Returns ErrCommandNotFound if the command does not exist.
	Update(ctx context.Context, cmd *Command) error

	// ListByDeviceAndStatus returns a device's commands in a given status,
	// submission order (oldest first).
	ListByDeviceAndStatus(ctx context.Context, deviceID string, status Status) ([]Command, error)

	// ListByStatus returns all commands in a given status across devices,
	// grouped by device in submission order.
	ListByStatus(ctx context.Context, status Status) ([]Command, error)
}

// GenerateID returns a new unique command identifier.
func GenerateID() string {
	return "cmd-" + uuid.NewString()[:8]
}

// timeLayout keeps fractional seconds at fixed width so created_at sorts
// lexicographically, preserving submission order for same-second bursts.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const commandColumns = `id, device_id, object_id, resource_id, type, payload,
	status, attempts, not_before, last_error, created_at, updated_at, completed_at`

// Create inserts a new command.
func (r *SQLiteRepository) Create(ctx context.Context, cmd *Command) error {
	now := time.Now().UTC()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	cmd.UpdatedAt = now

	query := `
		INSERT INTO commands (
			id, device_id, object_id, resource_id, type, payload,
			status, attempts, not_before, last_error, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		cmd.ID,
		cmd.DeviceID,
		cmd.ObjectID,
		cmd.ResourceID,
		string(cmd.Type),
		nullableString(cmd.Payload),
		string(cmd.Status),
		cmd.Attempts,
		nullableTime(cmd.NotBefore),
		nullableString(cmd.LastError),
		cmd.CreatedAt.Format(timeLayout),
		cmd.UpdatedAt.Format(timeLayout),
		nullableTime(cmd.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}

	return nil
}

// Get retrieves a command by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE id = ?`

	cmd, err := scanCommand(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command: %w", err)
	}
	return cmd, nil
}

// Update modifies an existing command.
func (r *SQLiteRepository) Update(ctx context.Context, cmd *Command) error {
	cmd.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE commands SET
			status = ?, attempts = ?, not_before = ?, last_error = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(cmd.Status),
		cmd.Attempts,
		nullableTime(cmd.NotBefore),
		nullableString(cmd.LastError),
		cmd.UpdatedAt.Format(timeLayout),
		nullableTime(cmd.CompletedAt),
		cmd.ID,
	)
	if err != nil {
		return fmt.Errorf("updating command: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCommandNotFound
	}

	return nil
}

// ListByDeviceAndStatus returns a device's commands in a given status,
// submission order.
func (r *SQLiteRepository) ListByDeviceAndStatus(ctx context.Context, deviceID string, status Status) ([]Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE device_id = ? AND status = ?
		ORDER BY created_at`
	return r.queryCommands(ctx, query, deviceID, string(status))
}

// ListByStatus returns all commands in a given status across devices.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE status = ?
		ORDER BY device_id, created_at`
	return r.queryCommands(ctx, query, string(status))
}

// queryCommands executes a query and returns a slice of commands.
func (r *SQLiteRepository) queryCommands(ctx context.Context, query string, args ...any) ([]Command, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *cmd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}

	return commands, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCommand scans a row or rows result into a Command.
func scanCommand(scanner rowScanner) (*Command, error) {
	var c Command
	var cmdType, status, createdAt, updatedAt string
	var payload, notBefore, lastError, completedAt sql.NullString

	err := scanner.Scan(
		&c.ID,
		&c.DeviceID,
		&c.ObjectID,
		&c.ResourceID,
		&cmdType,
		&payload,
		&status,
		&c.Attempts,
		&notBefore,
		&lastError,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Type = Type(cmdType)
	c.Status = Status(status)

	if payload.Valid {
		c.Payload = payload.String
	}
	if lastError.Valid {
		c.LastError = lastError.String
	}
	if notBefore.Valid {
		t, err := time.Parse(time.RFC3339Nano, notBefore.String)
		if err != nil {
			return nil, fmt.Errorf("parsing not_before: %w", err)
		}
		c.NotBefore = &t
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		c.CompletedAt = &t
	}

	var parseErr error
	c.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	c.UpdatedAt, parseErr = time.Parse(time.RFC3339Nano, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &c, nil
}

// nullableString returns a sql.NullString for optional strings.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}
