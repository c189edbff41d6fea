package influxdb

import "errors"

// Sentinel errors, matched by callers with errors.Is.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when the influxdb backend is
	// switched off in config.yaml.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
