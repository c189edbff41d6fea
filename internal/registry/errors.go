package registry

import "errors"

// Domain errors for the registry package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, registry.ErrDeviceNotFound) {
//	    // handle unknown endpoint
//	}
var (
	// ErrDeviceNotFound is returned when no record exists for an endpoint,
	// or when a refresh targets a deregistered endpoint (the device must
	// re-register from scratch).
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrDeviceExists is returned when creating a device whose endpoint
	// is already taken.
	ErrDeviceExists = errors.New("registry: device already exists")

	// ErrInvalidEndpoint is returned when an endpoint identity is empty
	// or contains a topic separator.
	ErrInvalidEndpoint = errors.New("registry: invalid endpoint")

	// ErrInvalidLifetime is returned when a registration lifetime is not positive.
	ErrInvalidLifetime = errors.New("registry: invalid lifetime")
)
