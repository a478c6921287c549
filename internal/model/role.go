package model

import "time"

// RoleType distinguishes the built-in superadmin role, which bypasses the
// permission grant list entirely, from regular roles that carry explicit
// grants.
type RoleType string

const (
	RoleSuperAdmin RoleType = "SUPER_ADMIN"
	RoleAdmin      RoleType = "ADMIN"
	RoleUser       RoleType = "USER"
)

// Role groups a set of permission grants. Users are bound to roles, and a
// snapshot of the role's grants is embedded in their access tokens at issue
// time.
type Role struct {
	ID          int64        `json:"id" db:"id"`
	Name        string       `json:"name" db:"name"`
	Type        RoleType     `json:"type" db:"type"`
	Description string       `json:"description" db:"description"`
	IsActive    bool         `json:"is_active" db:"is_active"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// Permission is a single grant within a role. Subject names a resource
// category (USER, ROLE, API_KEY); Action is a comma-separated list of
// numeric action codes resolved through the ability mapping table.
type Permission struct {
	ID      int64  `json:"id" db:"id"`
	RoleID  int64  `json:"role_id" db:"role_id"`
	Subject string `json:"subject" db:"subject"`
	Action  string `json:"action" db:"action"`
}
