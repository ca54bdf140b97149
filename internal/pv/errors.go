package pv

import "errors"

// Sentinel errors for PV construction and access.
// Use errors.Is() to check for these in calling code.
var (
	// ErrUnknownType is returned by MapType for a base type outside the supported table.
	ErrUnknownType = errors.New("pv: unknown type")

	// ErrUnsupportedShape is returned for registers with more than one dimension.
	ErrUnsupportedShape = errors.New("pv: unsupported shape")

	// ErrDuplicateName is returned when two definitions resolve to the same PV name.
	ErrDuplicateName = errors.New("pv: duplicate name")

	// ErrMetadataAttach is logged when a display field cannot be attached to a PV.
	ErrMetadataAttach = errors.New("pv: metadata attach failed")

	// ErrCallbackFailed wraps errors and panics raised by a put callback.
	ErrCallbackFailed = errors.New("pv: put callback failed")

	// ErrNotFound is returned when no PV has the requested name.
	ErrNotFound = errors.New("pv: not found")

	// ErrReadOnly is returned when a put targets a read-only PV.
	ErrReadOnly = errors.New("pv: read-only")

	// ErrTypeMismatch is returned when a value does not fit the PV's type or shape.
	ErrTypeMismatch = errors.New("pv: type mismatch")
)
