package influxdb

import "errors"

// Sentinel errors, checked with errors.Is.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the ping failure in Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: client closed")
)
