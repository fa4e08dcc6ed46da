package models

// UserRole names a role carried in access tokens.
type UserRole string

const (
	// RoleSuperAdmin passes every role check.
	RoleSuperAdmin UserRole = "SUPERADMIN"
	// RoleAdmin runs populate, imports, exports and attendance edits.
	RoleAdmin UserRole = "ADMIN"
)
