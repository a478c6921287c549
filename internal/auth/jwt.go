package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatekit/gatekit/internal/model"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// UserIdentity is the request-scoped identity extracted from a verified
// access token. The permission snapshot is the one embedded at issue time:
// grant changes on the role do not take effect until the token is refreshed.
// Whole-account revocation is handled by the user's is_active flag at login
// and refresh, not by re-validating the payload per request.
type UserIdentity struct {
	ID          string
	RoleType    model.RoleType
	Permissions []model.Permission
}

// Abilities builds the ability set from the identity's embedded snapshot.
// No storage read happens here.
func (u *UserIdentity) Abilities() AbilitySet {
	return BuildAbilities(u.RoleType, u.Permissions)
}

// permissionClaim is the wire form of one grant inside a token payload.
type permissionClaim struct {
	Subject string `json:"subject"`
	Action  string `json:"action"`
}

// claims is the JWT payload for both token kinds. TokenType discriminates
// access from refresh so one cannot be replayed as the other even if the
// secrets are configured identically.
type claims struct {
	RoleType    string            `json:"role_type,omitempty"`
	Permissions []permissionClaim `json:"permissions,omitempty"`
	TokenType   string            `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenConfig holds the signing material and claim constraints for both
// token kinds. Access and refresh tokens use separate secrets and TTLs.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Audience      string
	Issuer        string
}

// TokenService mints and verifies access and refresh tokens. Access tokens
// carry the user's role type and permission snapshot and authorize API
// calls; refresh tokens carry only the subject and authorize minting new
// access tokens.
type TokenService struct {
	cfg TokenConfig
}

func NewTokenService(cfg TokenConfig) *TokenService {
	return &TokenService{cfg: cfg}
}

// IssueAccess mints an access token for the user, embedding the role's
// grants as they are right now.
func (s *TokenService) IssueAccess(u *model.UserWithRole) (string, error) {
	perms := make([]permissionClaim, len(u.Role.Permissions))
	for i, p := range u.Role.Permissions {
		perms[i] = permissionClaim{Subject: p.Subject, Action: p.Action}
	}
	return s.sign(u.User.ID, &claims{
		RoleType:    string(u.Role.Type),
		Permissions: perms,
		TokenType:   tokenTypeAccess,
	}, s.cfg.AccessTTL, s.cfg.AccessSecret)
}

// IssueRefresh mints a refresh token for the user id.
func (s *TokenService) IssueRefresh(userID string) (string, error) {
	return s.sign(userID, &claims{TokenType: tokenTypeRefresh}, s.cfg.RefreshTTL, s.cfg.RefreshSecret)
}

func (s *TokenService) sign(subject string, c *claims, ttl time.Duration, secret string) (string, error) {
	now := time.Now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{s.cfg.Audience},
		Issuer:    s.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// VerifyAccess verifies an access token and returns the embedded identity.
// Failures are coded: JWT_EXPIRED for an expired signature-valid token,
// JWT_INVALID for everything else (bad signature, wrong audience or issuer,
// malformed payload, refresh token presented as access).
func (s *TokenService) VerifyAccess(token string) (*UserIdentity, error) {
	c, err := s.verify(token, s.cfg.AccessSecret, tokenTypeAccess)
	if err != nil {
		return nil, err
	}

	perms := make([]model.Permission, len(c.Permissions))
	for i, p := range c.Permissions {
		perms[i] = model.Permission{Subject: p.Subject, Action: p.Action}
	}
	return &UserIdentity{
		ID:          c.Subject,
		RoleType:    model.RoleType(c.RoleType),
		Permissions: perms,
	}, nil
}

// VerifyRefresh verifies a refresh token and returns the user id it was
// minted for.
func (s *TokenService) VerifyRefresh(token string) (string, error) {
	c, err := s.verify(token, s.cfg.RefreshSecret, tokenTypeRefresh)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}

func (s *TokenService) verify(token, secret, wantType string) (*claims, error) {
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		},
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, unauthorized(CodeJWTExpired, "token expired")
		}
		return nil, unauthorized(CodeJWTInvalid, "token invalid")
	}
	if !parsed.Valid || c.TokenType != wantType {
		return nil, unauthorized(CodeJWTInvalid, "token invalid")
	}
	return c, nil
}
