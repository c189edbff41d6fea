package alert

import "errors"

// Common alert errors.
var (
	// ErrAlertNotFound is returned when no alert exists for the given
	// identifier or query.
	ErrAlertNotFound = errors.New("alert: not found")

	// ErrDuplicateUnresolved is returned by the repository when an
	// unresolved alert of the same type already exists for the device.
	// The evaluator treats it as idempotent success.
	ErrDuplicateUnresolved = errors.New("alert: unresolved alert already exists")
)
