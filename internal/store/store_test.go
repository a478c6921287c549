package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatekit/gatekit/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// API key tests
// ---------------------------------------------------------------------------

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Create
	key := &model.APIKey{
		Key:      "gk_abc123",
		Hash:     "deadbeef",
		Name:     "ci pipeline",
		Type:     model.KeyTypeDefault,
		IsActive: true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if key.ID == "" {
		t.Fatal("expected assigned ID after create")
	}

	// GetAPIKeyByKey
	got, err := s.GetAPIKeyByKey(ctx, "gk_abc123")
	if err != nil {
		t.Fatalf("GetAPIKeyByKey: %v", err)
	}
	if got.ID != key.ID {
		t.Errorf("got ID %q, want %q", got.ID, key.ID)
	}
	if got.Hash != "deadbeef" {
		t.Errorf("got hash %q, want deadbeef", got.Hash)
	}
	if !got.IsActive {
		t.Error("expected active key")
	}

	// GetAPIKeyByID
	got2, err := s.GetAPIKeyByID(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKeyByID: %v", err)
	}
	if got2.Key != "gk_abc123" {
		t.Errorf("got key %q, want gk_abc123", got2.Key)
	}

	// ListAPIKeys
	list, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d keys, want 1", len(list))
	}

	// SetAPIKeyActive
	if err := s.SetAPIKeyActive(ctx, key.ID, false); err != nil {
		t.Fatalf("SetAPIKeyActive: %v", err)
	}
	got3, _ := s.GetAPIKeyByID(ctx, key.ID)
	if got3.IsActive {
		t.Error("expected key deactivated")
	}

	// ResetAPIKeyHash
	if err := s.ResetAPIKeyHash(ctx, key.ID, "cafef00d"); err != nil {
		t.Fatalf("ResetAPIKeyHash: %v", err)
	}
	got4, _ := s.GetAPIKeyByID(ctx, key.ID)
	if got4.Hash != "cafef00d" {
		t.Errorf("got hash %q, want cafef00d", got4.Hash)
	}
	if got4.Key != "gk_abc123" {
		t.Error("key identifier must not change on reset")
	}

	// UpdateAPIKeyDates
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	if err := s.UpdateAPIKeyDates(ctx, key.ID, &start, &end); err != nil {
		t.Fatalf("UpdateAPIKeyDates: %v", err)
	}
	got5, _ := s.GetAPIKeyByID(ctx, key.ID)
	if got5.StartDate == nil || got5.EndDate == nil {
		t.Fatal("expected window set")
	}
	if !got5.StartDate.Equal(start) || !got5.EndDate.Equal(end) {
		t.Errorf("window mismatch: got [%v, %v]", got5.StartDate, got5.EndDate)
	}
}

func TestAPIKeySoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &model.APIKey{Key: "gk_gone", Hash: "h", Name: "doomed", Type: model.KeyTypeDefault, IsActive: true}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	if err := s.SoftDeleteAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("SoftDeleteAPIKey: %v", err)
	}

	// Soft-deleted keys are invisible to every lookup.
	if _, err := s.GetAPIKeyByKey(ctx, "gk_gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAPIKeyByKey after delete: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetAPIKeyByID(ctx, key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAPIKeyByID after delete: got %v, want ErrNotFound", err)
	}
	list, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("got %d keys after delete, want 0", len(list))
	}

	// Deleting twice fails: the row is already invisible.
	if err := s.SoftDeleteAPIKey(ctx, key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestAPIKeyNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetAPIKeyByKey(ctx, "gk_nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if err := s.SetAPIKeyActive(ctx, "no-such-id", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Role tests
// ---------------------------------------------------------------------------

func TestRoleCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	role := &model.Role{
		Name:        "operators",
		Type:        model.RoleAdmin,
		Description: "day-to-day key management",
		IsActive:    true,
		Permissions: []model.Permission{
			{Subject: "API_KEY", Action: "2,3,4"},
			{Subject: "USER", Action: "2"},
		},
	}
	if err := s.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.ID == 0 {
		t.Fatal("expected non-zero role ID")
	}

	got, err := s.GetRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if got.Name != "operators" || got.Type != model.RoleAdmin {
		t.Errorf("unexpected role: %+v", got)
	}
	if len(got.Permissions) != 2 {
		t.Fatalf("got %d grants, want 2", len(got.Permissions))
	}
	if got.Permissions[0].Subject != "API_KEY" || got.Permissions[0].Action != "2,3,4" {
		t.Errorf("unexpected first grant: %+v", got.Permissions[0])
	}

	byName, err := s.GetRoleByName(ctx, "operators")
	if err != nil {
		t.Fatalf("GetRoleByName: %v", err)
	}
	if byName.ID != role.ID {
		t.Errorf("got ID %d, want %d", byName.ID, role.ID)
	}

	// UpdateRole
	role.Description = "updated"
	if err := s.UpdateRole(ctx, role); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	got2, _ := s.GetRole(ctx, role.ID)
	if got2.Description != "updated" {
		t.Errorf("got description %q, want updated", got2.Description)
	}

	// SetRolePermissions replaces all grants.
	if err := s.SetRolePermissions(ctx, role.ID, []model.Permission{
		{Subject: "ROLE", Action: "1"},
	}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	got3, _ := s.GetRole(ctx, role.ID)
	if len(got3.Permissions) != 1 || got3.Permissions[0].Subject != "ROLE" {
		t.Errorf("grants not replaced: %+v", got3.Permissions)
	}

	// DeleteRole cascades the grants.
	if err := s.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if _, err := s.GetRole(ctx, role.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	perms, err := s.GetRolePermissions(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetRolePermissions: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("grants survived role deletion: %+v", perms)
	}
}

// ---------------------------------------------------------------------------
// User tests
// ---------------------------------------------------------------------------

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	role := &model.Role{Name: "staff", Type: model.RoleUser, IsActive: true,
		Permissions: []model.Permission{{Subject: "USER", Action: "2"}}}
	if err := s.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}

	hasAny, err := s.HasAnyUser(ctx)
	if err != nil {
		t.Fatalf("HasAnyUser: %v", err)
	}
	if hasAny {
		t.Error("expected no users in a fresh store")
	}

	user := &model.User{
		Email:        "ops@example.com",
		PasswordHash: "$2a$10$fakehash",
		Name:         "Ops",
		RoleID:       role.ID,
		IsActive:     true,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected assigned user ID")
	}

	// GetUserByEmail joins in the role and its grants.
	got, err := s.GetUserByEmail(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.User.ID != user.ID {
		t.Errorf("got ID %q, want %q", got.User.ID, user.ID)
	}
	if got.Role.Name != "staff" {
		t.Errorf("got role %q, want staff", got.Role.Name)
	}
	if len(got.Role.Permissions) != 1 {
		t.Errorf("got %d grants, want 1", len(got.Role.Permissions))
	}

	got2, err := s.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got2.User.Email != "ops@example.com" {
		t.Errorf("got email %q", got2.User.Email)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("got %d users, want 1", len(users))
	}

	if err := s.SetUserActive(ctx, user.ID, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	got3, _ := s.GetUserByID(ctx, user.ID)
	if got3.User.IsActive {
		t.Error("expected user deactivated")
	}

	hasAny, _ = s.HasAnyUser(ctx)
	if !hasAny {
		t.Error("expected HasAnyUser true")
	}
}

func TestDeleteRoleWithUsersFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	role := &model.Role{Name: "bound", Type: model.RoleUser, IsActive: true}
	if err := s.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	user := &model.User{Email: "u@example.com", PasswordHash: "h", RoleID: role.ID, IsActive: true}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if err := s.DeleteRole(ctx, role.ID); err == nil {
		t.Error("expected foreign key violation deleting a role with users")
	}
}
