package session

import (
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	t.Setenv("NOTEKEEP_JWT_SECRET", "")
	t.Setenv("NOTEKEEP_TOKEN_FORMAT", "")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_ShortSecret(t *testing.T) {
	t.Setenv("NOTEKEEP_JWT_SECRET", "too-short")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on short secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	t.Setenv("NOTEKEEP_JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("NOTEKEEP_AUTH_ACCESS_TTL", "-5m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_RefreshShorterThanAccess(t *testing.T) {
	t.Setenv("NOTEKEEP_JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("NOTEKEEP_AUTH_ACCESS_TTL", "2h")
	t.Setenv("NOTEKEEP_AUTH_REFRESH_TTL", "1h")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for TTL order, got %v", err)
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("NOTEKEEP_JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("NOTEKEEP_AUTH_ACCESS_TTL", "")
	t.Setenv("NOTEKEEP_AUTH_REFRESH_TTL", "")
	t.Setenv("NOTEKEEP_TOKEN_FORMAT", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("access TTL = %s", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("refresh TTL = %s", cfg.RefreshTokenTTL)
	}
	if cfg.Format != FormatJWT {
		t.Fatalf("format = %q", cfg.Format)
	}
}

func TestLoadConfigFromEnv_Paseto(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("NOTEKEEP_TOKEN_FORMAT", "PASETO")
	t.Setenv("NOTEKEEP_JWT_SECRET", "")
	t.Setenv("NOTEKEEP_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Format != FormatPaseto {
		t.Fatalf("format = %q", cfg.Format)
	}
	if _, err := NewManager(cfg); err != nil {
		t.Fatalf("NewManager: %v", err)
	}
}

func TestLoadConfigFromEnv_UnknownFormat(t *testing.T) {
	t.Setenv("NOTEKEEP_JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("NOTEKEEP_TOKEN_FORMAT", "macaroon")
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
