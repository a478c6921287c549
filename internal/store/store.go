package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/gatekit/gatekit/internal/model"
)

// Store persists Gatekit's API keys, roles, permission grants, and user
// accounts in SQLite. The authentication pipeline only reads from it;
// writes happen through the admin surface and the CLI.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "gatekit.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. The hash must already be set.
// A UUID v7 id is assigned if none is present.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now().UTC()
	key.CreatedAt = now
	key.UpdatedAt = now

	const q = `INSERT INTO api_keys
		(id, key, hash, name, type, is_active, start_date, end_date, created_at, updated_at)
		VALUES
		(:id, :key, :hash, :name, :type, :is_active, :start_date, :end_date, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByKey looks up an API key by its public identifier. Soft-deleted
// keys are invisible here; this is the lookup the verification pipeline uses.
func (s *Store) GetAPIKeyByKey(ctx context.Context, key string) (*model.APIKey, error) {
	var rec model.APIKey
	err := s.db.GetContext(ctx, &rec,
		"SELECT * FROM api_keys WHERE key = ? AND deleted_at IS NULL", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by key: %w", err)
	}
	return &rec, nil
}

// GetAPIKeyByID returns a non-deleted API key by id.
func (s *Store) GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error) {
	var rec model.APIKey
	err := s.db.GetContext(ctx, &rec,
		"SELECT * FROM api_keys WHERE id = ? AND deleted_at IS NULL", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by id: %w", err)
	}
	return &rec, nil
}

// ListAPIKeys returns all non-deleted API keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	err := s.db.SelectContext(ctx, &keys,
		"SELECT * FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// SetAPIKeyActive toggles the active flag of an API key.
func (s *Store) SetAPIKeyActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_active = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set api key active: %w", err)
	}
	return oneRow(result)
}

// ResetAPIKeyHash replaces the stored hash after a secret rotation. The key
// identifier is immutable; only the hash changes.
func (s *Store) ResetAPIKeyHash(ctx context.Context, id, hash string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET hash = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		hash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reset api key hash: %w", err)
	}
	return oneRow(result)
}

// UpdateAPIKeyDates sets the activation window of an API key. Pass nil for
// both to clear the window.
func (s *Store) UpdateAPIKeyDates(ctx context.Context, id string, start, end *time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET start_date = ?, end_date = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		start, end, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update api key dates: %w", err)
	}
	return oneRow(result)
}

// SoftDeleteAPIKey revokes an API key by stamping deleted_at. The row is
// kept for audit history and the key identifier stays reserved.
func (s *Store) SoftDeleteAPIKey(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		now, now, id)
	if err != nil {
		return fmt.Errorf("soft delete api key: %w", err)
	}
	return oneRow(result)
}

// ---------------------------------------------------------------------------
// Roles and permissions
// ---------------------------------------------------------------------------

// CreateRole inserts a new role together with its permission grants.
func (s *Store) CreateRole(ctx context.Context, role *model.Role) error {
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.NamedExecContext(ctx, `INSERT INTO roles
		(name, type, description, is_active, created_at, updated_at)
		VALUES (:name, :type, :description, :is_active, :created_at, :updated_at)`, role)
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get role id: %w", err)
	}
	role.ID = id

	for i := range role.Permissions {
		role.Permissions[i].RoleID = id
		if err := insertPermission(ctx, tx, &role.Permissions[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertPermission(ctx context.Context, tx *sqlx.Tx, p *model.Permission) error {
	result, err := tx.NamedExecContext(ctx,
		`INSERT INTO permissions (role_id, subject, action) VALUES (:role_id, :subject, :action)`, p)
	if err != nil {
		return fmt.Errorf("insert permission: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get permission id: %w", err)
	}
	p.ID = id
	return nil
}

// GetRole returns a role by id, including its grants.
func (s *Store) GetRole(ctx context.Context, id int64) (*model.Role, error) {
	var role model.Role
	if err := s.db.GetContext(ctx, &role, "SELECT * FROM roles WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	perms, err := s.GetRolePermissions(ctx, id)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

// GetRoleByName returns a role by its unique name, including its grants.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	if err := s.db.GetContext(ctx, &role, "SELECT * FROM roles WHERE name = ?", name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get role by name: %w", err)
	}
	perms, err := s.GetRolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

// ListRoles returns all roles with their grants.
func (s *Store) ListRoles(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := s.db.SelectContext(ctx, &roles, "SELECT * FROM roles ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	for i := range roles {
		perms, err := s.GetRolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

// UpdateRole updates a role's name, description, type, and active flag.
func (s *Store) UpdateRole(ctx context.Context, role *model.Role) error {
	role.UpdatedAt = time.Now().UTC()
	result, err := s.db.NamedExecContext(ctx, `UPDATE roles SET
		name = :name, type = :type, description = :description,
		is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`, role)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return oneRow(result)
}

// SetRolePermissions replaces all grants of a role within a transaction.
func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, perms []model.Permission) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM permissions WHERE role_id = ?", roleID); err != nil {
		return fmt.Errorf("clear permissions: %w", err)
	}
	for i := range perms {
		perms[i].RoleID = roleID
		if err := insertPermission(ctx, tx, &perms[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRolePermissions returns all grants of a role.
func (s *Store) GetRolePermissions(ctx context.Context, roleID int64) ([]model.Permission, error) {
	var perms []model.Permission
	err := s.db.SelectContext(ctx, &perms,
		"SELECT * FROM permissions WHERE role_id = ? ORDER BY id", roleID)
	if err != nil {
		return nil, fmt.Errorf("get role permissions: %w", err)
	}
	return perms, nil
}

// DeleteRole removes a role; its grants cascade. Fails if users still
// reference the role (foreign key).
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM roles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return oneRow(result)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. A UUID v7 id is assigned if none is present.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const q = `INSERT INTO users
		(id, email, password_hash, name, role_id, is_active, created_at, updated_at)
		VALUES
		(:id, :email, :password_hash, :name, :role_id, :is_active, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, user); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail returns a user joined with its role and grants.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.UserWithRole, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE email = ?", email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return s.withRole(ctx, user)
}

// GetUserByID returns a user joined with its role and grants.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.UserWithRole, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return s.withRole(ctx, user)
}

func (s *Store) withRole(ctx context.Context, user model.User) (*model.UserWithRole, error) {
	role, err := s.GetRole(ctx, user.RoleID)
	if err != nil {
		return nil, fmt.Errorf("get role for user %s: %w", user.ID, err)
	}
	return &model.UserWithRole{User: user, Role: *role}, nil
}

// ListUsers returns all users.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// SetUserActive toggles a user's active flag. Deactivation blocks future
// logins and refreshes; already-issued access tokens remain valid until
// expiry.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?",
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return oneRow(result)
}

// HasAnyUser reports whether at least one user account exists, for first-run
// detection.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// oneRow converts a zero-rows-affected update into ErrNotFound.
func oneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
