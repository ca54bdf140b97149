package auth

import (
	"errors"
	"slices"
)

// Role represents an authorisation tier for API callers.
type Role string

const (
	// RoleViewer may read and subscribe to PVs.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally write PVs, including run/stop.
	RoleOperator Role = "operator"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Domain errors for the auth package.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)
