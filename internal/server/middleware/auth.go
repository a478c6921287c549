package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatekit/gatekit/internal/auth"
	"github.com/gatekit/gatekit/internal/model"
	"github.com/gatekit/gatekit/internal/store"
)

// Timestamp validates the x-timestamp header against the tolerance window.
// Requests outside the window, or with an unparsable header, are rejected
// with 403 TIMESTAMP_INVALID before any credential work happens.
func Timestamp(tolerance time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.ValidateTimestamp(r.Header.Get("x-timestamp"), time.Now(), tolerance); err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIKey validates the X-API-Key credential and attaches the resulting
// identity to the request context. In non-secure deployments (secure=false)
// the guard passes every request through with an empty identity; this is an
// explicit escape hatch, not a fallback on error.
func APIKey(verifier *auth.APIKeyVerifier, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !secure {
				ctx := context.WithValue(r.Context(), apiKeyKey, &auth.APIKeyIdentity{})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			identity, err := verifier.Verify(r.Context(), r.Header.Get("X-API-Key"), time.Now())
			if err != nil {
				writeAuthError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessToken validates the Authorization bearer token and attaches the user
// identity to the request context.
func AccessToken(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeAuthError(w, &auth.Error{
					Code: auth.CodeJWTInvalid, Status: http.StatusUnauthorized,
					Message: "bearer token required",
				})
				return
			}

			identity, err := tokens.VerifyAccess(raw)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoleTypes is the coarse role-type allow-list check. SUPER_ADMIN
// passes regardless of the list. Must run after AccessToken.
func RequireRoleTypes(types ...model.RoleType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				writeAuthError(w, &auth.Error{
					Code: auth.CodeJWTInvalid, Status: http.StatusUnauthorized,
					Message: "authentication required",
				})
				return
			}
			if user.RoleType != model.RoleSuperAdmin && !containsRole(types, user.RoleType) {
				writeAuthError(w, &auth.Error{
					Code: auth.CodeRoleForbidden, Status: http.StatusForbidden,
					Message: "role type not permitted",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePolicy is the fine-grained ability check against the route's
// declared requirement groups: all actions within a group, any group
// overall. Must run after AccessToken.
func RequirePolicy(groups ...auth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				writeAuthError(w, &auth.Error{
					Code: auth.CodeJWTInvalid, Status: http.StatusUnauthorized,
					Message: "authentication required",
				})
				return
			}
			if !user.Abilities().Satisfies(groups...) {
				writeAuthError(w, &auth.Error{
					Code: auth.CodeForbidden, Status: http.StatusForbidden,
					Message: "insufficient permissions",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoadAPIKeyParam resolves the {keyID} path parameter to an API-key record
// and attaches it to the request context, so downstream handlers get a
// uniform not-found check.
func LoadAPIKeyParam(s *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, err := s.GetAPIKeyByID(r.Context(), chi.URLParam(r, "keyID"))
			if err != nil {
				writeResourceError(w, err, "api key not found")
				return
			}
			ctx := context.WithValue(r.Context(), apiKeyRecordKey, rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoadRoleParam resolves the {roleName} path parameter to a role record and
// attaches it to the request context.
func LoadRoleParam(s *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, err := s.GetRoleByName(r.Context(), chi.URLParam(r, "roleName"))
			if err != nil {
				writeResourceError(w, err, "role not found")
				return
			}
			ctx := context.WithValue(r.Context(), roleRecordKey, rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func containsRole(types []model.RoleType, t model.RoleType) bool {
	for _, rt := range types {
		if rt == t {
			return true
		}
	}
	return false
}

func writeAuthError(w http.ResponseWriter, err error) {
	writeErrorEnvelope(w, auth.StatusOf(err), string(auth.CodeOf(err)), err)
}

func writeResourceError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeErrorEnvelope(w, http.StatusNotFound, "NOT_FOUND", errors.New(notFoundMsg))
		return
	}
	writeErrorEnvelope(w, http.StatusInternalServerError, "INTERNAL", err)
}

func writeErrorEnvelope(w http.ResponseWriter, status int, code string, err error) {
	msg := err.Error()
	if ae, ok := err.(*auth.Error); ok {
		msg = ae.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: code, Message: msg},
	})
}
