package handler

import (
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatekit/gatekit/internal/auth"
	"github.com/gatekit/gatekit/internal/model"
	"github.com/gatekit/gatekit/internal/server/middleware"
	"github.com/gatekit/gatekit/internal/store"
)

// SystemHandler manages Gatekit's own configuration surface: login and
// token refresh, API keys, roles, and user accounts.
type SystemHandler struct {
	store     *store.Store
	tokens    *auth.TokenService
	keyPrefix string
	accessTTL time.Duration
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(s *store.Store, tokens *auth.TokenService, keyPrefix string, accessTTL time.Duration) *SystemHandler {
	return &SystemHandler{store: s, tokens: tokens, keyPrefix: keyPrefix, accessTTL: accessTTL}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Login authenticates a user with email and password and returns an
// access/refresh token pair. The access token embeds the role's permission
// snapshot as of this moment.
// POST /api/v1/system/user/login
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "email and password are required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "CREDENTIALS_INVALID", "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "authentication error")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.User.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "CREDENTIALS_INVALID", "invalid credentials")
		return
	}
	if !user.User.IsActive {
		writeError(w, http.StatusForbidden, "USER_INACTIVE", "user account is inactive")
		return
	}
	if !user.Role.IsActive {
		writeError(w, http.StatusForbidden, "ROLE_INACTIVE", "role is inactive")
		return
	}

	access, err := h.tokens.IssueAccess(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "issue access token")
		return
	}
	refresh, err := h.tokens.IssueRefresh(user.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "issue refresh token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.accessTTL.Seconds()),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a valid refresh token for a new access token. The user
// and role are re-read here, so permission changes and account deactivation
// take effect at refresh time.
// POST /api/v1/system/user/refresh
func (h *SystemHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}

	userID, err := h.tokens.VerifyRefresh(req.RefreshToken)
	if err != nil {
		writeError(w, auth.StatusOf(err), string(auth.CodeOf(err)), "refresh token rejected")
		return
	}

	user, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "CREDENTIALS_INVALID", "unknown user")
		return
	}
	if !user.User.IsActive {
		writeError(w, http.StatusForbidden, "USER_INACTIVE", "user account is inactive")
		return
	}

	access, err := h.tokens.IssueAccess(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "issue access token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.accessTTL.Seconds()),
	})
}

// Identity echoes the request's identity context: the API-key identity and,
// when a bearer token was presented, the user identity.
// GET /api/v1/identity
func (h *SystemHandler) Identity(w http.ResponseWriter, r *http.Request) {
	type identityResponse struct {
		APIKey *auth.APIKeyIdentity `json:"api_key,omitempty"`
		User   *auth.UserIdentity   `json:"user,omitempty"`
	}
	writeJSON(w, http.StatusOK, identityResponse{
		APIKey: middleware.APIKeyFromContext(r.Context()),
		User:   middleware.UserFromContext(r.Context()),
	})
}

// ---------------------------------------------------------------------------
// API key management
// ---------------------------------------------------------------------------

type createKeyRequest struct {
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

type createKeyResponse struct {
	model.APIKey
	Secret string `json:"secret"` // shown once, never stored
}

// CreateAPIKey issues a new API key. The generated secret appears in this
// response only; afterwards only the hash exists.
// POST /api/v1/system/api-key
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "name is required")
		return
	}

	keyType := model.APIKeyType(req.Type)
	switch keyType {
	case "":
		keyType = model.KeyTypeDefault
	case model.KeyTypeDefault, model.KeyTypeSystem, model.KeyTypePrivate:
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown key type")
		return
	}

	if (req.StartDate == nil) != (req.EndDate == nil) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "start_date and end_date must be set together")
		return
	}
	if req.StartDate != nil && req.EndDate.Before(*req.StartDate) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "end_date before start_date")
		return
	}

	key, err := auth.GenerateKey(h.keyPrefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "generate key")
		return
	}
	secret, err := auth.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "generate secret")
		return
	}

	rec := &model.APIKey{
		Key:       key,
		Hash:      auth.HashCredential(key, secret),
		Name:      req.Name,
		Type:      keyType,
		IsActive:  true,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	}
	if err := h.store.CreateAPIKey(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "create api key")
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{APIKey: *rec, Secret: secret})
}

// ListAPIKeys lists all non-revoked API keys.
// GET /api/v1/system/api-key
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "list api keys")
		return
	}
	writeJSON(w, http.StatusOK, listResponse(keys, len(keys)))
}

// GetAPIKey returns the API key loaded by the {keyID} resource guard.
// GET /api/v1/system/api-key/{keyID}
func (h *SystemHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.APIKeyRecordFromContext(r.Context()))
}

type resetKeyResponse struct {
	model.APIKey
	Secret string `json:"secret"` // shown once, never stored
}

// ResetAPIKey rotates the secret of an existing key. The key identifier is
// immutable; only the stored hash changes.
// PATCH /api/v1/system/api-key/{keyID}/reset
func (h *SystemHandler) ResetAPIKey(w http.ResponseWriter, r *http.Request) {
	rec := middleware.APIKeyRecordFromContext(r.Context())

	secret, err := auth.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "generate secret")
		return
	}
	if err := h.store.ResetAPIKeyHash(r.Context(), rec.ID, auth.HashCredential(rec.Key, secret)); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "reset api key")
		return
	}

	writeJSON(w, http.StatusOK, resetKeyResponse{APIKey: *rec, Secret: secret})
}

// ActivateAPIKey re-enables a deactivated key.
// PATCH /api/v1/system/api-key/{keyID}/active
func (h *SystemHandler) ActivateAPIKey(w http.ResponseWriter, r *http.Request) {
	h.setKeyActive(w, r, true)
}

// DeactivateAPIKey disables a key without revoking it.
// PATCH /api/v1/system/api-key/{keyID}/inactive
func (h *SystemHandler) DeactivateAPIKey(w http.ResponseWriter, r *http.Request) {
	h.setKeyActive(w, r, false)
}

func (h *SystemHandler) setKeyActive(w http.ResponseWriter, r *http.Request, active bool) {
	rec := middleware.APIKeyRecordFromContext(r.Context())
	if rec.IsActive == active {
		writeError(w, http.StatusConflict, "KEY_STATE_UNCHANGED", "api key already in requested state")
		return
	}
	if err := h.store.SetAPIKeyActive(r.Context(), rec.ID, active); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "update api key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateKeyDatesRequest struct {
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// UpdateAPIKeyDates sets or clears the activation window of a key.
// PUT /api/v1/system/api-key/{keyID}/date
func (h *SystemHandler) UpdateAPIKeyDates(w http.ResponseWriter, r *http.Request) {
	var req updateKeyDatesRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}
	if (req.StartDate == nil) != (req.EndDate == nil) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "start_date and end_date must be set together")
		return
	}
	if req.StartDate != nil && req.EndDate.Before(*req.StartDate) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "end_date before start_date")
		return
	}

	rec := middleware.APIKeyRecordFromContext(r.Context())
	if err := h.store.UpdateAPIKeyDates(r.Context(), rec.ID, req.StartDate, req.EndDate); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "update api key dates")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAPIKey revokes a key. The record is soft-deleted: it disappears
// from lookups and listings but the row is retained.
// DELETE /api/v1/system/api-key/{keyID}
func (h *SystemHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	rec := middleware.APIKeyRecordFromContext(r.Context())
	if err := h.store.SoftDeleteAPIKey(r.Context(), rec.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "delete api key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Role management
// ---------------------------------------------------------------------------

type permissionRequest struct {
	Subject string `json:"subject"`
	Action  string `json:"action"`
}

type roleRequest struct {
	Name        string              `json:"name"`
	Type        string              `json:"type"`
	Description string              `json:"description"`
	IsActive    *bool               `json:"is_active,omitempty"`
	Permissions []permissionRequest `json:"permissions"`
}

// CreateRole creates a role with its permission grants.
// POST /api/v1/system/role
func (h *SystemHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "name is required")
		return
	}
	roleType, ok := parseRoleType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown role type")
		return
	}

	role := &model.Role{
		Name:        req.Name,
		Type:        roleType,
		Description: req.Description,
		IsActive:    true,
		Permissions: toPermissions(req.Permissions),
	}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		writeError(w, http.StatusConflict, "ROLE_EXISTS", "create role: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// ListRoles lists all roles with their grants.
// GET /api/v1/system/role
func (h *SystemHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "list roles")
		return
	}
	writeJSON(w, http.StatusOK, listResponse(roles, len(roles)))
}

// GetRole returns the role loaded by the {roleName} resource guard.
// GET /api/v1/system/role/{roleName}
func (h *SystemHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.RoleFromContext(r.Context()))
}

// UpdateRole updates a role's metadata and active flag.
// PUT /api/v1/system/role/{roleName}
func (h *SystemHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}
	roleType, ok := parseRoleType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown role type")
		return
	}

	role := middleware.RoleFromContext(r.Context())
	if req.Name != "" {
		role.Name = req.Name
	}
	role.Type = roleType
	role.Description = req.Description
	if req.IsActive != nil {
		role.IsActive = *req.IsActive
	}
	if err := h.store.UpdateRole(r.Context(), role); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "update role")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// SetRolePermissions replaces a role's grant list. Existing tokens keep the
// old snapshot until refresh.
// PUT /api/v1/system/role/{roleName}/permissions
func (h *SystemHandler) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req []permissionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}

	role := middleware.RoleFromContext(r.Context())
	perms := toPermissions(req)
	if err := h.store.SetRolePermissions(r.Context(), role.ID, perms); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "set role permissions")
		return
	}
	role.Permissions = perms
	writeJSON(w, http.StatusOK, role)
}

// DeleteRole removes a role. Fails while users still hold it.
// DELETE /api/v1/system/role/{roleName}
func (h *SystemHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	role := middleware.RoleFromContext(r.Context())
	if err := h.store.DeleteRole(r.Context(), role.ID); err != nil {
		writeError(w, http.StatusConflict, "ROLE_IN_USE", "delete role: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// User management
// ---------------------------------------------------------------------------

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	RoleID   int64  `json:"role_id"`
}

// CreateUser creates a user account bound to a role.
// POST /api/v1/system/user
func (h *SystemHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" || req.RoleID == 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "email, password and role_id are required")
		return
	}
	if _, err := h.store.GetRole(r.Context(), req.RoleID); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown role")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "hash password")
		return
	}

	user := &model.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		Name:         req.Name,
		RoleID:       req.RoleID,
		IsActive:     true,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusConflict, "USER_EXISTS", "create user: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// ListUsers lists all user accounts.
// GET /api/v1/system/user
func (h *SystemHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "list users")
		return
	}
	writeJSON(w, http.StatusOK, listResponse(users, len(users)))
}

func parseRoleType(t string) (model.RoleType, bool) {
	switch model.RoleType(t) {
	case "":
		return model.RoleUser, true
	case model.RoleSuperAdmin, model.RoleAdmin, model.RoleUser:
		return model.RoleType(t), true
	default:
		return "", false
	}
}

func toPermissions(reqs []permissionRequest) []model.Permission {
	perms := make([]model.Permission, len(reqs))
	for i, p := range reqs {
		perms[i] = model.Permission{Subject: p.Subject, Action: p.Action}
	}
	return perms
}
