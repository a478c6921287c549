package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load(viper.New())

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.Mode != "secure" {
		t.Errorf("mode = %q, want secure", cfg.Auth.Mode)
	}
	if !cfg.Auth.SecureMode() {
		t.Error("default config should be secure")
	}
	if cfg.Auth.KeyPrefix != "gk_" {
		t.Errorf("key prefix = %q, want gk_", cfg.Auth.KeyPrefix)
	}
	if cfg.Auth.CredentialMode != "plain" {
		t.Errorf("credential mode = %q, want plain", cfg.Auth.CredentialMode)
	}
	if cfg.Auth.TimestampTolerance != 5*time.Minute {
		t.Errorf("tolerance = %v, want 5m", cfg.Auth.TimestampTolerance)
	}
	if cfg.Auth.JWT.AccessTTL != 15*time.Minute {
		t.Errorf("access ttl = %v, want 15m", cfg.Auth.JWT.AccessTTL)
	}
	if cfg.Auth.JWT.AccessSecret == cfg.Auth.JWT.RefreshSecret {
		t.Error("default access and refresh secrets must differ")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	v.Set("auth.mode", "relaxed")
	v.Set("auth.credential_mode", "encrypted")
	v.Set("auth.encryption_passphrase", "swordfish")
	v.Set("auth.timestamp_tolerance", "30s")

	cfg := Load(v)
	if cfg.Auth.SecureMode() {
		t.Error("relaxed mode should not be secure")
	}
	if cfg.Auth.CredentialMode != "encrypted" {
		t.Errorf("credential mode = %q, want encrypted", cfg.Auth.CredentialMode)
	}
	if cfg.Auth.TimestampTolerance != 30*time.Second {
		t.Errorf("tolerance = %v, want 30s", cfg.Auth.TimestampTolerance)
	}
}

func TestValidateRejections(t *testing.T) {
	base := Load(viper.New())

	cfg := base
	cfg.Auth.CredentialMode = "encrypted"
	cfg.Auth.EncryptionPassphrase = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for encrypted mode without passphrase")
	}

	cfg = base
	cfg.Auth.JWT.RefreshSecret = cfg.Auth.JWT.AccessSecret
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for identical token secrets")
	}

	cfg = base
	cfg.Auth.TimestampTolerance = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero tolerance")
	}
}
