package session

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HabGLH/ecommerce/cmd/security/token"
)

// Config defines all runtime policy for the session subsystem.
//
// It controls the refresh-session TTL, access-token TTL and signing
// secret, clock skew tolerance, refresh entropy size, and the optional
// keyed token-hashing mode.
//
// Policy is passed in explicitly at construction time so the core stays
// testable in isolation; only LoadConfigFromEnv touches process state.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// SessionTTL is the refresh-session lifetime. Rotation advances the
	// session's expiry by this much.
	SessionTTL time.Duration

	// AccessTokenTTL is the lifetime of minted access JWTs. Intentionally
	// minutes, not days: the refresh session exists only to mint these.
	AccessTokenTTL time.Duration

	// ClockSkew is the allowed time skew during access-token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes is the number of random bytes behind each opaque
	// refresh token.
	RefreshTokenBytes int

	// AccessTokenSecret is the HS256 signing secret for access JWTs.
	AccessTokenSecret string

	// TokenHMACKey, when non-empty, switches credential hashing from
	// SHA-256 to HMAC-SHA256 under this key.
	TokenHMACKey []byte
}

// DefaultConfig returns the storefront's default session policy.
// Production deployments override values via environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:            "ecommerce",
		SessionTTL:        10 * 24 * time.Hour,
		AccessTokenTTL:    15 * time.Minute,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - SESSIOND_ACCESS_TOKEN_SECRET
//
// Optional (durations must be valid Go duration strings):
//   - SESSIOND_AUTH_ISSUER
//   - SESSIOND_SESSION_TTL
//   - SESSIOND_ACCESS_TTL
//   - SESSIOND_CLOCK_SKEW
//   - SESSIOND_REFRESH_TOKEN_BYTES
//   - SESSIOND_TOKEN_HMAC_KEY
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("SESSIOND_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("SESSIOND_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SessionTTL = d
	}

	if v := os.Getenv("SESSIOND_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("SESSIOND_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("SESSIOND_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	cfg.AccessTokenSecret = strings.TrimSpace(os.Getenv("SESSIOND_ACCESS_TOKEN_SECRET"))
	if cfg.AccessTokenSecret == "" {
		return Config{}, ErrConfig
	}

	if key, err := token.HMACKeyFromEnv(0); err == nil {
		cfg.TokenHMACKey = key
	}

	// Invariant: access tokens must be strictly shorter-lived than the
	// refresh session they are minted from.
	if cfg.AccessTokenTTL >= cfg.SessionTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
