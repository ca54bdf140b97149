package auth

import "slices"

// Permission names one action an API route guards.
type Permission string

const (
	// PermPVRead covers listing, reading and subscribing to PVs.
	PermPVRead Permission = "pv:read"
	// PermPVWrite covers PUT writes, including the Run PV.
	PermPVWrite Permission = "pv:write"
)

var grants = map[Role][]Permission{
	RoleViewer:   {PermPVRead},
	RoleOperator: {PermPVRead, PermPVWrite},
}

// HasPermission reports whether role is granted perm. Unknown roles have
// no permissions.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(grants[role], perm)
}

// PermissionsForRole returns a copy of the permissions granted to role, or
// nil for an unknown role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(grants[role])
}
