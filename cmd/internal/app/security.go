package app

import (
	"errors"

	"github.com/HabGLH/ecommerce/cmd/security/token"
)

// ValidateSecurityConfig enforces the session security policy at startup.
//
// Fail-fast is intentional: silently falling back to unkeyed hashing in
// a deployment that mandates HMAC is unacceptable.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret; bytes, not runes,
	// because the key is used as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: SESSIOND_REQUIRE_TOKEN_HMAC=true but SESSIOND_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: SESSIOND_REQUIRE_TOKEN_HMAC=true but SESSIOND_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: SESSIOND_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
