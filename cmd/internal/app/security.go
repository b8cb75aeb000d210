package app

import (
	"errors"
	"fmt"

	"notekeep/cmd/internal/auth/session"
	"notekeep/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy. It fails fast
// rather than running production with weaker crypto.
func ValidateSecurityConfig(cfg Config, sess session.Config, hasher token.Hasher) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("security policy: %w", err)
	}

	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Key length is measured in bytes; the key is used raw.
	if _, err := token.HMACKeyFromEnv(token.MinHMACKeyBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: refresh-token HMAC is required but NOTEKEEP_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: NOTEKEEP_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !hasher.Keyed() {
		return errors.New("security policy: refresh-token HMAC is required but the token hasher is not keyed")
	}

	return nil
}
