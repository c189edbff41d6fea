package resource

import "errors"

// Common resource store errors.
var (
	// ErrValueNotFound is returned when no observation exists for the
	// requested resource.
	ErrValueNotFound = errors.New("resource: value not found")

	// ErrDescriptorNotFound is returned when no descriptor version exists
	// for the requested resource.
	ErrDescriptorNotFound = errors.New("resource: descriptor not found")

	// ErrInvalidDescriptor is returned when a descriptor is submitted with
	// an empty name or an unknown kind.
	ErrInvalidDescriptor = errors.New("resource: invalid descriptor")

	// ErrInvalidValue is returned when an observation is missing its
	// device identity or payload.
	ErrInvalidValue = errors.New("resource: invalid value")
)
