package tsdb

import "errors"

// Sentinel errors, matched by callers with errors.Is.
var (
	ErrNotConnected     = errors.New("tsdb: not connected")
	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrWriteFailed wraps flush failures delivered through the
	// SetOnError callback.
	ErrWriteFailed = errors.New("tsdb: write failed")

	// ErrDisabled is returned by Connect when the victoriametrics
	// backend is switched off in config.yaml.
	ErrDisabled = errors.New("tsdb: disabled in configuration")
)
