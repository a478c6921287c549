package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for stretching the credential-encryption passphrase
// into an AES-256 key. Interactive-login strength; a derivation takes tens
// of milliseconds, so callers must not run it on a shared dispatch path.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// HashCredential computes the deterministic one-way hash stored for an API
// key: hex-encoded SHA-256 over "key:secret". Determinism is required — the
// verifier recomputes the hash from the presented credential and compares it
// against the stored value, so a per-call salt (bcrypt-style) cannot work
// here.
func HashCredential(key, secret string) string {
	sum := sha256.Sum256([]byte(key + ":" + secret))
	return hex.EncodeToString(sum[:])
}

// CompareHash reports whether two hashes are equal using a constant-time
// comparison. A length mismatch fails closed without comparing bytes.
func CompareHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Encrypt seals plaintext with AES-256-CTR. The AES key is derived from the
// passphrase with scrypt using a fresh random salt, and a fresh random IV is
// used per call. Output layout: base64(salt || iv || ciphertext), so each
// ciphertext is self-describing and decryptable with the passphrase alone.
func Encrypt(plaintext []byte, passphrase string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	out := make([]byte, saltLen+aes.BlockSize+len(plaintext))
	copy(out, salt)
	copy(out[saltLen:], iv)
	cipher.NewCTR(block, iv).XORKeyStream(out[saltLen+aes.BlockSize:], plaintext)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. It fails on undecodable input or input too short
// to carry the salt and IV header.
func Decrypt(encoded string, passphrase string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < saltLen+aes.BlockSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(raw))
	}

	salt := raw[:saltLen]
	iv := raw[saltLen : saltLen+aes.BlockSize]
	ciphertext := raw[saltLen+aes.BlockSize:]

	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// GenerateKey returns a new public key identifier with the given prefix,
// e.g. "gk_3f9a...". The identifier is not secret but must be unique.
func GenerateKey(prefix string) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return prefix + hex.EncodeToString(raw), nil
}

// GenerateSecret returns a new API-key secret. The plaintext is shown once
// at creation; only HashCredential(key, secret) is persisted.
func GenerateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
