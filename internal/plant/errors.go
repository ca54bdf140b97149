package plant

import "errors"

// Domain errors for the plant backend package.
var (
	// ErrBackendUnavailable is returned when the backend cannot be reached
	// or the connection has been closed.
	ErrBackendUnavailable = errors.New("plant: backend unavailable")

	// ErrProtocol is returned when a frame or response cannot be decoded.
	// The connection is dropped because the stream position is unknown.
	ErrProtocol = errors.New("plant: protocol error")

	// ErrRemote is returned when the backend answered with an error object.
	ErrRemote = errors.New("plant: backend error")
)
