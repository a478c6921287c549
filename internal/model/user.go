package model

import "time"

// User is an account that authenticates with email and password and holds a
// role. Passwords are stored as bcrypt hashes.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Name         string    `json:"name" db:"name"`
	RoleID       int64     `json:"role_id" db:"role_id"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// UserWithRole is a user joined with its role and the role's grants, as
// needed when minting tokens.
type UserWithRole struct {
	User User `json:"user"`
	Role Role `json:"role"`
}
