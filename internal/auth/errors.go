package auth

import "net/http"

// Code is a stable machine-readable failure code. Codes are a contract
// surface: clients and operators branch on them, so existing values must
// never be renamed or repurposed.
type Code string

const (
	CodeKeyNeeded        Code = "KEY_NEEDED"
	CodeKeyPrefixInvalid Code = "KEY_PREFIX_INVALID"
	CodeKeySchemaInvalid Code = "KEY_SCHEMA_INVALID"
	CodeKeyNotFound      Code = "KEY_NOT_FOUND"
	CodeKeyInactive      Code = "KEY_INACTIVE"
	CodeKeyNotActiveYet  Code = "KEY_NOT_ACTIVE_YET"
	CodeKeyExpired       Code = "KEY_EXPIRED"
	CodeKeyInvalid       Code = "KEY_INVALID"
	CodeTimestampInvalid Code = "TIMESTAMP_INVALID"
	CodeJWTExpired       Code = "JWT_EXPIRED"
	CodeJWTInvalid       Code = "JWT_INVALID"
	CodeForbidden        Code = "FORBIDDEN"
	CodeRoleForbidden    Code = "ROLE_FORBIDDEN"
)

// Error is a coded authentication or authorization failure. Status carries
// the HTTP status the originating guard maps the code to; the mapping is
// per-guard, not per-code (the timestamp guard rejects with 403 while the
// key guards reject with 401).
type Error struct {
	Code    Code
	Status  int
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// CodeOf returns the stable code of an auth error, or the empty string for
// any other error.
func CodeOf(err error) Code {
	if ae, ok := err.(*Error); ok {
		return ae.Code
	}
	return ""
}

// StatusOf returns the HTTP status of an auth error, or 500 for any other
// error.
func StatusOf(err error) int {
	if ae, ok := err.(*Error); ok {
		return ae.Status
	}
	return http.StatusInternalServerError
}

func unauthorized(code Code, message string) *Error {
	return &Error{Code: code, Status: http.StatusUnauthorized, Message: message}
}

func forbidden(code Code, message string) *Error {
	return &Error{Code: code, Status: http.StatusForbidden, Message: message}
}
