package middleware

import (
	"context"

	"github.com/gatekit/gatekit/internal/auth"
	"github.com/gatekit/gatekit/internal/model"
)

type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	apiKeyKey       contextKey = "api_key_identity"
	userKey         contextKey = "user_identity"
	apiKeyRecordKey contextKey = "api_key_record"
	roleRecordKey   contextKey = "role_record"
)

// GetRequestID extracts the request ID from the context. Returns an empty
// string if none is present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// APIKeyFromContext returns the API-key identity attached by the APIKey
// guard, or nil for unauthenticated requests.
func APIKeyFromContext(ctx context.Context) *auth.APIKeyIdentity {
	if id, ok := ctx.Value(apiKeyKey).(*auth.APIKeyIdentity); ok {
		return id
	}
	return nil
}

// UserFromContext returns the user identity attached by the AccessToken
// guard, or nil.
func UserFromContext(ctx context.Context) *auth.UserIdentity {
	if id, ok := ctx.Value(userKey).(*auth.UserIdentity); ok {
		return id
	}
	return nil
}

// APIKeyRecordFromContext returns the API-key record attached by
// LoadAPIKeyParam, or nil.
func APIKeyRecordFromContext(ctx context.Context) *model.APIKey {
	if rec, ok := ctx.Value(apiKeyRecordKey).(*model.APIKey); ok {
		return rec
	}
	return nil
}

// RoleFromContext returns the role record attached by LoadRoleParam, or nil.
func RoleFromContext(ctx context.Context) *model.Role {
	if rec, ok := ctx.Value(roleRecordKey).(*model.Role); ok {
		return rec
	}
	return nil
}
