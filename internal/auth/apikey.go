package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gatekit/gatekit/internal/model"
	"github.com/gatekit/gatekit/internal/store"
)

// CredentialMode selects the X-API-Key credential form the verifier accepts.
// The form is a deployment decision, never guessed from the payload shape.
type CredentialMode string

const (
	// CredentialPlain accepts "key:secret".
	CredentialPlain CredentialMode = "plain"
	// CredentialEncrypted accepts "key:<base64 AES-CTR ciphertext>" where
	// the ciphertext decrypts to a JSON envelope {key, secret, timestamp,
	// hash} bound to the request time.
	CredentialEncrypted CredentialMode = "encrypted"
)

// KeyStore is the external collaborator the verifier reads key records from.
// Implementations return store.ErrNotFound for unknown keys and must be safe
// for concurrent reads.
type KeyStore interface {
	GetAPIKeyByKey(ctx context.Context, key string) (*model.APIKey, error)
}

// APIKeyIdentity is the request-scoped identity produced by a successful
// verification. It carries no secret material.
type APIKeyIdentity struct {
	ID   string           `json:"id"`
	Key  string           `json:"key"`
	Name string           `json:"name"`
	Type model.APIKeyType `json:"type"`
}

// VerifierConfig configures the API-key verifier.
type VerifierConfig struct {
	Mode       CredentialMode
	KeyPrefix  string // required prefix of the public key identifier, e.g. "gk_"
	Passphrase string // encrypted mode only
	// TimestampTolerance bounds the embedded timestamp in encrypted mode.
	TimestampTolerance time.Duration
}

// APIKeyVerifier validates X-API-Key credentials against stored key records.
type APIKeyVerifier struct {
	store KeyStore
	cfg   VerifierConfig
}

func NewAPIKeyVerifier(keys KeyStore, cfg VerifierConfig) *APIKeyVerifier {
	return &APIKeyVerifier{store: keys, cfg: cfg}
}

// encryptedEnvelope is the decrypted form of the encrypted credential.
type encryptedEnvelope struct {
	Key       string `json:"key"`
	Secret    string `json:"secret"`
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
}

// Verify runs the credential through the verification sequence: parse,
// lookup, lifecycle check, hash verify. Every failure is an early return
// with a distinct coded error; a malformed credential is rejected before any
// store lookup. On success the returned identity exposes only id, key, name
// and type.
func (v *APIKeyVerifier) Verify(ctx context.Context, credential string, now time.Time) (*APIKeyIdentity, error) {
	if credential == "" {
		return nil, unauthorized(CodeKeyNeeded, "x-api-key required")
	}

	// Parse. Exactly two non-empty colon-delimited parts.
	parts := strings.Split(credential, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, unauthorized(CodeKeySchemaInvalid, "credential must be key:secret")
	}
	key, secret := parts[0], parts[1]

	if v.cfg.KeyPrefix != "" && !strings.HasPrefix(key, v.cfg.KeyPrefix) {
		return nil, unauthorized(CodeKeyPrefixInvalid, "key prefix invalid")
	}

	// Lookup.
	record, err := v.store.GetAPIKeyByKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, unauthorized(CodeKeyNotFound, "api key not found")
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	// Lifecycle.
	if !record.IsActive {
		return nil, unauthorized(CodeKeyInactive, "api key inactive")
	}
	if record.StartDate != nil && record.EndDate != nil {
		if now.Before(*record.StartDate) {
			return nil, unauthorized(CodeKeyNotActiveYet, "api key not active yet")
		}
		if now.After(*record.EndDate) {
			return nil, unauthorized(CodeKeyExpired, "api key expired")
		}
	}

	// Hash verify.
	switch v.cfg.Mode {
	case CredentialEncrypted:
		if err := v.verifyEncrypted(record, key, secret, now); err != nil {
			return nil, err
		}
	default:
		if !CompareHash(HashCredential(key, secret), record.Hash) {
			return nil, unauthorized(CodeKeyInvalid, "api key invalid")
		}
	}

	return &APIKeyIdentity{
		ID:   record.ID,
		Key:  record.Key,
		Name: record.Name,
		Type: record.Type,
	}, nil
}

// verifyEncrypted decrypts the payload part and cross-checks the embedded
// key and hash against the outer key and the stored record. The embedded
// timestamp binds the ciphertext to the request time so a captured
// credential ages out with the tolerance window.
func (v *APIKeyVerifier) verifyEncrypted(record *model.APIKey, key, payload string, now time.Time) error {
	plaintext, err := Decrypt(payload, v.cfg.Passphrase)
	if err != nil {
		return unauthorized(CodeKeyInvalid, "api key invalid")
	}

	var env encryptedEnvelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return unauthorized(CodeKeyInvalid, "api key invalid")
	}

	if env.Key != key {
		return unauthorized(CodeKeyInvalid, "api key invalid")
	}
	if err := ValidateTimestamp(strconv.FormatInt(env.Timestamp, 10), now, v.cfg.TimestampTolerance); err != nil {
		return err
	}

	computed := HashCredential(env.Key, env.Secret)
	if !CompareHash(computed, env.Hash) || !CompareHash(computed, record.Hash) {
		return unauthorized(CodeKeyInvalid, "api key invalid")
	}
	return nil
}
