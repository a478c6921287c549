package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gatekit/gatekit/internal/auth"
	"github.com/gatekit/gatekit/internal/model"
	"github.com/gatekit/gatekit/internal/store"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID == "" {
		t.Error("expected X-Request-ID in response header")
	}
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r.Context()); id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if respID := rr.Header().Get("X-Request-ID"); respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Timestamp middleware tests
// ---------------------------------------------------------------------------

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func blockedHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called")
		w.WriteHeader(http.StatusOK)
	})
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body model.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestTimestampAcceptsFreshRequest(t *testing.T) {
	handler := Timestamp(5 * time.Minute)(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/identity", nil)
	req.Header.Set("x-timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestTimestampRejectsStaleRequest(t *testing.T) {
	handler := Timestamp(5 * time.Minute)(blockedHandler(t))

	stale := time.Now().Add(-time.Hour).UnixMilli()
	req := httptest.NewRequest("GET", "/api/v1/identity", nil)
	req.Header.Set("x-timestamp", strconv.FormatInt(stale, 10))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "TIMESTAMP_INVALID" {
		t.Errorf("expected TIMESTAMP_INVALID, got %q", code)
	}
}

func TestTimestampRejectsMissingHeader(t *testing.T) {
	handler := Timestamp(5 * time.Minute)(blockedHandler(t))

	req := httptest.NewRequest("GET", "/api/v1/identity", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// APIKey middleware tests
// ---------------------------------------------------------------------------

type stubKeyStore struct {
	record *model.APIKey
}

func (s *stubKeyStore) GetAPIKeyByKey(ctx context.Context, key string) (*model.APIKey, error) {
	if s.record != nil && s.record.Key == key {
		return s.record, nil
	}
	return nil, store.ErrNotFound
}

func testVerifier(record *model.APIKey) *auth.APIKeyVerifier {
	return auth.NewAPIKeyVerifier(&stubKeyStore{record: record}, auth.VerifierConfig{
		Mode:      auth.CredentialPlain,
		KeyPrefix: "gk_",
	})
}

func TestAPIKeyAttachesIdentity(t *testing.T) {
	record := &model.APIKey{
		ID: "id-1", Key: "gk_abc", Hash: auth.HashCredential("gk_abc", "s3cret"),
		Name: "test", Type: model.KeyTypeDefault, IsActive: true,
	}

	handler := APIKey(testVerifier(record), true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := APIKeyFromContext(r.Context())
		if identity == nil {
			t.Fatal("expected identity in context")
		}
		if identity.ID != "id-1" || identity.Key != "gk_abc" {
			t.Errorf("unexpected identity: %+v", identity)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/identity", nil)
	req.Header.Set("X-API-Key", "gk_abc:s3cret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestAPIKeyRejectsMissingCredential(t *testing.T) {
	handler := APIKey(testVerifier(nil), true)(blockedHandler(t))

	req := httptest.NewRequest("GET", "/api/v1/identity", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "KEY_NEEDED" {
		t.Errorf("expected KEY_NEEDED, got %q", code)
	}
}

func TestAPIKeyRejectsBadCredential(t *testing.T) {
	record := &model.APIKey{
		ID: "id-1", Key: "gk_abc", Hash: auth.HashCredential("gk_abc", "s3cret"),
		IsActive: true,
	}
	handler := APIKey(testVerifier(record), true)(blockedHandler(t))

	req := httptest.NewRequest("GET", "/api/v1/identity", nil)
	req.Header.Set("X-API-Key", "gk_abc:wrong")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "KEY_INVALID" {
		t.Errorf("expected KEY_INVALID, got %q", code)
	}
}

func TestAPIKeyRelaxedModePassesThrough(t *testing.T) {
	// secure=false: no credential needed, an empty identity is attached.
	handler := APIKey(testVerifier(nil), false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := APIKeyFromContext(r.Context())
		if identity == nil {
			t.Fatal("expected empty identity in context")
		}
		if identity.ID != "" || identity.Key != "" {
			t.Errorf("expected zero-value identity, got %+v", identity)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/identity", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// AccessToken middleware tests
// ---------------------------------------------------------------------------

func testTokens() *auth.TokenService {
	return auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Audience:      "gatekit",
		Issuer:        "gatekit",
	})
}

func issueToken(t *testing.T, svc *auth.TokenService, roleType model.RoleType, grants ...model.Permission) string {
	t.Helper()
	token, err := svc.IssueAccess(&model.UserWithRole{
		User: model.User{ID: "user-1"},
		Role: model.Role{Type: roleType, Permissions: grants},
	})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	return token
}

func TestAccessTokenAttachesUser(t *testing.T) {
	svc := testTokens()
	token := issueToken(t, svc, model.RoleAdmin, model.Permission{Subject: "API_KEY", Action: "2"})

	handler := AccessToken(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			t.Fatal("expected user in context")
		}
		if user.ID != "user-1" || user.RoleType != model.RoleAdmin {
			t.Errorf("unexpected user: %+v", user)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/system/api-key", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestAccessTokenRejectsMissingHeader(t *testing.T) {
	handler := AccessToken(testTokens())(blockedHandler(t))

	req := httptest.NewRequest("GET", "/api/v1/system/api-key", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "JWT_INVALID" {
		t.Errorf("expected JWT_INVALID, got %q", code)
	}
}

func TestAccessTokenRejectsGarbageToken(t *testing.T) {
	handler := AccessToken(testTokens())(blockedHandler(t))

	req := httptest.NewRequest("GET", "/api/v1/system/api-key", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// RequireRoleTypes middleware tests
// ---------------------------------------------------------------------------

func withUser(req *http.Request, user *auth.UserIdentity) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), userKey, user))
}

func TestRequireRoleTypesAllowsListed(t *testing.T) {
	handler := RequireRoleTypes(model.RoleAdmin)(okHandler())

	req := withUser(httptest.NewRequest("GET", "/admin", nil),
		&auth.UserIdentity{ID: "u1", RoleType: model.RoleAdmin})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleTypesSuperAdminBypass(t *testing.T) {
	// SUPER_ADMIN passes even when not in the allow list.
	handler := RequireRoleTypes(model.RoleAdmin)(okHandler())

	req := withUser(httptest.NewRequest("GET", "/admin", nil),
		&auth.UserIdentity{ID: "u1", RoleType: model.RoleSuperAdmin})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleTypesBlocksOthers(t *testing.T) {
	handler := RequireRoleTypes(model.RoleAdmin)(blockedHandler(t))

	req := withUser(httptest.NewRequest("GET", "/admin", nil),
		&auth.UserIdentity{ID: "u1", RoleType: model.RoleUser})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "ROLE_FORBIDDEN" {
		t.Errorf("expected ROLE_FORBIDDEN, got %q", code)
	}
}

func TestRequireRoleTypesBlocksUnauthenticated(t *testing.T) {
	handler := RequireRoleTypes(model.RoleAdmin)(blockedHandler(t))

	req := httptest.NewRequest("GET", "/admin", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// RequirePolicy middleware tests
// ---------------------------------------------------------------------------

func TestRequirePolicyAllowsGranted(t *testing.T) {
	handler := RequirePolicy(
		auth.Requirement{Subject: auth.SubjectAPIKey, Actions: []auth.Action{auth.ActionRead}},
	)(okHandler())

	req := withUser(httptest.NewRequest("GET", "/admin/api-key", nil), &auth.UserIdentity{
		ID: "u1", RoleType: model.RoleAdmin,
		Permissions: []model.Permission{{Subject: "API_KEY", Action: "2"}},
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestRequirePolicyBlocksUngranted(t *testing.T) {
	handler := RequirePolicy(
		auth.Requirement{Subject: auth.SubjectAPIKey, Actions: []auth.Action{auth.ActionDelete}},
	)(blockedHandler(t))

	req := withUser(httptest.NewRequest("DELETE", "/admin/api-key/x", nil), &auth.UserIdentity{
		ID: "u1", RoleType: model.RoleAdmin,
		Permissions: []model.Permission{{Subject: "API_KEY", Action: "2"}},
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN, got %q", code)
	}
}

func TestRequirePolicySuperAdminPasses(t *testing.T) {
	handler := RequirePolicy(
		auth.Requirement{Subject: auth.SubjectRole, Actions: []auth.Action{auth.ActionManage}},
	)(okHandler())

	req := withUser(httptest.NewRequest("POST", "/admin/role", nil),
		&auth.UserIdentity{ID: "u1", RoleType: model.RoleSuperAdmin})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}
