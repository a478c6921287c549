package model

import "time"

// APIKeyType classifies an API key by the kind of consumer it is issued to.
type APIKeyType string

const (
	KeyTypeDefault APIKeyType = "default"
	KeyTypeSystem  APIKeyType = "system"
	KeyTypePrivate APIKeyType = "private"
)

// APIKey is a long-lived machine credential. The public key identifier is
// stored as-is; the secret is never stored, only a one-way hash of
// "key:secret". Keys are soft-deleted: revoked rows keep their history with
// deleted_at set, and lookups exclude them.
type APIKey struct {
	ID        string     `json:"id" db:"id"`
	Key       string     `json:"key" db:"key"`
	Hash      string     `json:"-" db:"hash"` // hash of key:secret, never expose
	Name      string     `json:"name" db:"name"`
	Type      APIKeyType `json:"type" db:"type"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	StartDate *time.Time `json:"start_date,omitempty" db:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" db:"end_date"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// InWindow reports whether now falls inside the key's activation window.
// Keys without a complete [StartDate, EndDate] window are always in window.
func (k *APIKey) InWindow(now time.Time) bool {
	if k.StartDate == nil || k.EndDate == nil {
		return true
	}
	return !now.Before(*k.StartDate) && !now.After(*k.EndDate)
}
