package command

import "errors"

// Common command dispatch errors.
var (
	// ErrCommandNotFound is returned when no command exists for the
	// given identifier.
	ErrCommandNotFound = errors.New("command: not found")

	// ErrDeviceUnknown is returned when a command is submitted against a
	// device identity with no record. A stale or deregistered device is
	// known; only a never-registered identity is unknown.
	ErrDeviceUnknown = errors.New("command: device unknown")

	// ErrInvalidCommand is returned when a submission is missing required
	// fields or names an unknown command type.
	ErrInvalidCommand = errors.New("command: invalid command")
)
