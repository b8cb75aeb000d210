package session

import (
	"os"
	"strings"
	"time"
)

// Token formats accepted by Config.Format.
const (
	FormatJWT    = "jwt"
	FormatPaseto = "paseto"
)

// Config defines all runtime configuration for token issuance.
//
// The signing key is process-wide and immutable after startup; it is
// injected into the Manager, never read from a global.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	// Format selects the codec: FormatJWT (HS256) or FormatPaseto (v4.public).
	Format string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// JWTSecret signs HS256 tokens. Required when Format is FormatJWT.
	JWTSecret []byte

	// PasetoV4SecretKeyHex is the hex Ed25519 key for FormatPaseto.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns the 15 minute / 7 day baseline without key material.
func DefaultConfig() Config {
	return Config{
		Issuer:          "notekeep",
		Format:          FormatJWT,
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - NOTEKEEP_JWT_SECRET (>= 32 bytes) for the jwt format
//   - NOTEKEEP_PASETO_V4_SECRET_KEY_HEX for the paseto format
//
// Optional (durations must be valid Go duration strings):
//   - NOTEKEEP_AUTH_ISSUER
//   - NOTEKEEP_TOKEN_FORMAT (jwt | paseto)
//   - NOTEKEEP_AUTH_ACCESS_TTL
//   - NOTEKEEP_AUTH_REFRESH_TTL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("NOTEKEEP_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("NOTEKEEP_TOKEN_FORMAT")); v != "" {
		cfg.Format = strings.ToLower(v)
	}

	if v := os.Getenv("NOTEKEEP_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("NOTEKEEP_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := strings.TrimSpace(os.Getenv("NOTEKEEP_JWT_SECRET")); v != "" {
		cfg.JWTSecret = []byte(v)
	}
	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("NOTEKEEP_PASETO_V4_SECRET_KEY_HEX"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks TTL ordering and that the selected format has key material.
func (c Config) Validate() error {
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return ErrConfig
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return ErrConfig
	}

	switch c.Format {
	case FormatJWT:
		if len(c.JWTSecret) < MinJWTSecretBytes {
			return ErrConfig
		}
	case FormatPaseto:
		if c.PasetoV4SecretKeyHex == "" {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}
