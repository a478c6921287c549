package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete runtime configuration, materialized once at startup
// and passed by value to component constructors. Components never read
// configuration sources themselves.
type Config struct {
	Server  Server
	Auth    Auth
	DataDir string
}

// Server holds the HTTP server configuration.
type Server struct {
	Host               string
	Port               int
	CORSOrigins        []string
	ShutdownTimeout    time.Duration
	RateLimitPerMinute int
}

// Auth holds the authentication pipeline configuration.
type Auth struct {
	// Mode is "secure" (API key required on protected routes) or "relaxed"
	// (API-key stage passes through with an empty identity). Relaxed mode
	// is an explicit escape hatch for development deployments.
	Mode string

	// KeyPrefix is the required prefix of issued key identifiers.
	KeyPrefix string

	// CredentialMode is "plain" (key:secret) or "encrypted"
	// (key:<AES-CTR payload>).
	CredentialMode string

	// EncryptionPassphrase stretches into the AES key in encrypted mode.
	EncryptionPassphrase string

	// RequireTimestamp enables the x-timestamp guard on protected routes.
	RequireTimestamp bool

	// TimestampTolerance is the accepted skew around server time.
	TimestampTolerance time.Duration

	JWT JWT
}

// JWT holds signing material and claim constraints for both token kinds.
type JWT struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Audience      string
	Issuer        string
}

// SecureMode reports whether the API-key requirement is enforced.
func (a Auth) SecureMode() bool {
	return a.Mode != "relaxed"
}

// Load materializes a Config from viper. Every key has a default, so a
// missing config file yields a working development configuration.
func Load(v *viper.Viper) Config {
	setDefaults(v)

	return Config{
		Server: Server{
			Host:               v.GetString("server.host"),
			Port:               v.GetInt("server.port"),
			CORSOrigins:        v.GetStringSlice("server.cors_origins"),
			ShutdownTimeout:    v.GetDuration("server.shutdown_timeout"),
			RateLimitPerMinute: v.GetInt("server.rate_limit_per_minute"),
		},
		Auth: Auth{
			Mode:                 v.GetString("auth.mode"),
			KeyPrefix:            v.GetString("auth.key_prefix"),
			CredentialMode:       v.GetString("auth.credential_mode"),
			EncryptionPassphrase: v.GetString("auth.encryption_passphrase"),
			RequireTimestamp:     v.GetBool("auth.require_timestamp"),
			TimestampTolerance:   v.GetDuration("auth.timestamp_tolerance"),
			JWT: JWT{
				AccessSecret:  v.GetString("auth.jwt.access_secret"),
				RefreshSecret: v.GetString("auth.jwt.refresh_secret"),
				AccessTTL:     v.GetDuration("auth.jwt.access_ttl"),
				RefreshTTL:    v.GetDuration("auth.jwt.refresh_ttl"),
				Audience:      v.GetString("auth.jwt.audience"),
				Issuer:        v.GetString("auth.jwt.issuer"),
			},
		},
		DataDir: v.GetString("data_dir"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit_per_minute", 120)

	v.SetDefault("auth.mode", "secure")
	v.SetDefault("auth.key_prefix", "gk_")
	v.SetDefault("auth.credential_mode", "plain")
	v.SetDefault("auth.encryption_passphrase", "gatekit-dev-passphrase-change-me")
	v.SetDefault("auth.require_timestamp", false)
	v.SetDefault("auth.timestamp_tolerance", 5*time.Minute)

	v.SetDefault("auth.jwt.access_secret", "gatekit-dev-access-secret-change-me")
	v.SetDefault("auth.jwt.refresh_secret", "gatekit-dev-refresh-secret-change-me")
	v.SetDefault("auth.jwt.access_ttl", 15*time.Minute)
	v.SetDefault("auth.jwt.refresh_ttl", 14*24*time.Hour)
	v.SetDefault("auth.jwt.audience", "gatekit")
	v.SetDefault("auth.jwt.issuer", "gatekit")
}

// Validate rejects configurations that cannot work: secure mode with an
// empty passphrase in encrypted credential mode, identical access and
// refresh secrets, or a non-positive tolerance.
func (c Config) Validate() error {
	if c.Auth.CredentialMode == "encrypted" && c.Auth.EncryptionPassphrase == "" {
		return fmt.Errorf("auth.encryption_passphrase required in encrypted credential mode")
	}
	if c.Auth.JWT.AccessSecret == c.Auth.JWT.RefreshSecret {
		return fmt.Errorf("auth.jwt access and refresh secrets must differ")
	}
	if c.Auth.TimestampTolerance <= 0 {
		return fmt.Errorf("auth.timestamp_tolerance must be positive")
	}
	return nil
}
