package session

import (
	"context"
	"strings"
	"time"

	"github.com/HabGLH/ecommerce/cmd/identity"
	"github.com/HabGLH/ecommerce/cmd/security/token"
)

// maxPresentedTokenLen bounds inputs before hashing; real tokens are
// well under 100 chars.
const maxPresentedTokenLen = 4096

// Service implements the high-level session lifecycle.
//
// It issues sessions, rotates refresh tokens in place with reuse
// detection, and supports per-session and per-owner revocation. It
// keeps no session state of its own: all state lives in the Store, so
// correctness under concurrency reduces to the Store's conditional
// updates.
type Service struct {
	cfg     Config
	store   Store
	users   identity.Lookup
	tokens  AccessTokenIssuer
	hasher  token.Hasher
	metrics *Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches lifecycle counters to the service.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a Service with the provided policy, store,
// identity lookup, and access-token issuer.
func NewService(cfg Config, store Store, users identity.Lookup, tokens AccessTokenIssuer, opts ...Option) (*Service, error) {
	if store == nil || users == nil || tokens == nil {
		return nil, ErrConfig
	}
	if cfg.SessionTTL <= 0 || cfg.RefreshTokenBytes < 32 {
		return nil, ErrConfig
	}

	s := &Service{
		cfg:    cfg,
		store:  store,
		users:  users,
		tokens: tokens,
		hasher: token.NewHasher(cfg.TokenHMACKey),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Issued is the result of creating a new session.
type Issued struct {
	Record Record
	// RefreshToken is the plaintext opaque token. It is handed to the
	// caller exactly once and never persisted.
	RefreshToken string
}

// Rotated is the result of a successful refresh rotation.
type Rotated struct {
	Record           Record
	RefreshToken     string
	RefreshExpiresAt time.Time
	AccessToken      string
	AccessExpiresAt  time.Time
	Owner            identity.User
}

// Issue creates a new active session for ownerID and returns the
// plaintext opaque token alongside the stored record.
//
// A credential-hash collision on insert is retried once with a fresh
// token; a second collision is surfaced as ErrDuplicateHash.
func (s *Service) Issue(ctx context.Context, now time.Time, ownerID, originAddr string) (Issued, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" || originAddr == "" {
		return Issued{}, ErrConfig
	}

	for attempt := 0; ; attempt++ {
		plain, err := newOpaqueToken(s.cfg.RefreshTokenBytes)
		if err != nil {
			return Issued{}, err
		}

		stored, err := s.store.Insert(ctx, Record{
			OwnerID:         ownerID,
			CredentialHash:  s.hasher.HashHex(plain),
			IssuedAt:        now,
			ExpiresAt:       now.Add(s.cfg.SessionTTL),
			CreatedFromAddr: originAddr,
		})
		if err == nil {
			s.metrics.incIssued()
			return Issued{Record: stored, RefreshToken: plain}, nil
		}
		if err != ErrDuplicateHash || attempt > 0 {
			return Issued{}, err
		}
	}
}

// Consume presents a refresh token to obtain fresh credentials.
//
// Outcomes:
//   - ErrInvalidToken: no record matches (or a concurrent rotation won).
//   - ErrTokenReused: the token was already rotated away or its record
//     revoked; every active session of the owner is revoked first.
//   - ErrTokenExpired: the record's TTL passed; the record is revoked
//     in place first.
//   - ErrUserNotFound: the owner no longer resolves.
//   - success: the record rotated in place and a fresh access token
//     was minted for the owner.
//
// All failures are terminal for the calling request: the caller must
// discard its cached credentials and force re-authentication.
func (s *Service) Consume(ctx context.Context, now time.Time, presentedToken, originAddr string) (Rotated, error) {
	presentedToken = strings.TrimSpace(presentedToken)
	if presentedToken == "" || len(presentedToken) > maxPresentedTokenLen {
		return Rotated{}, ErrInvalidToken
	}

	hash := s.hasher.HashHex(presentedToken)

	rec, err := s.store.FindByHash(ctx, hash)
	if err == ErrSessionNotFound {
		return Rotated{}, ErrInvalidToken
	}
	if err != nil {
		return Rotated{}, err
	}

	// Reuse: the record is revoked, or the presented token matched only
	// the hash rotated away. Either way the token family is treated as
	// compromised and every active session of the owner goes down with it.
	if rec.Revoked() || rec.CredentialHash != hash {
		n, err := s.store.RevokeAllForOwner(ctx, now, rec.OwnerID, ReasonReuseDetected, originAddr)
		if err != nil {
			return Rotated{}, err
		}
		s.metrics.incReuseDetected()
		s.metrics.addRevoked(ReasonReuseDetected, n)
		return Rotated{}, ErrTokenReused
	}

	if rec.Expired(now) {
		revoked := rec
		at := now
		reason := ReasonExpired
		addr := originAddr
		revoked.RevokedAt = &at
		revoked.RevocationReason = &reason
		revoked.RevokedFromAddr = &addr
		if err := s.store.Update(ctx, revoked); err != nil && err != ErrSessionNotFound {
			return Rotated{}, err
		}
		s.metrics.addRevoked(ReasonExpired, 1)
		return Rotated{}, ErrTokenExpired
	}

	// Resolve the owner before rotating so a dangling record never burns
	// its token on a request that cannot succeed.
	user, err := s.users.FindByID(ctx, rec.OwnerID)
	if identity.IsNotFound(err) {
		return Rotated{}, ErrUserNotFound
	}
	if err != nil {
		return Rotated{}, err
	}

	newPlain, err := newOpaqueToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Rotated{}, err
	}
	newHash := s.hasher.HashHex(newPlain)
	newExpiry := now.Add(s.cfg.SessionTTL)

	ok, err := s.store.Rotate(ctx, now, rec.SessionID, hash, newHash, newExpiry)
	if err != nil {
		return Rotated{}, err
	}
	if !ok {
		// A concurrent Consume of the same token rotated first; this
		// caller's snapshot is stale and must not rotate again.
		return Rotated{}, ErrInvalidToken
	}

	accessToken, accessExp, err := s.tokens.Issue(user, now)
	if err != nil {
		return Rotated{}, err
	}

	prev := hash
	lastUsed := now
	rec.PrevCredentialHash = &prev
	rec.CredentialHash = newHash
	rec.ExpiresAt = newExpiry
	rec.LastUsedAt = &lastUsed
	rec.RevokedAt = nil
	rec.RevocationReason = nil
	rec.RevokedFromAddr = nil

	s.metrics.incRotated()

	return Rotated{
		Record:           rec,
		RefreshToken:     newPlain,
		RefreshExpiresAt: newExpiry,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		Owner:            user,
	}, nil
}

// Revoke marks every active session of ownerID revoked ("log out
// everywhere"). A session issued concurrently may or may not be caught
// by the sweep; that is acceptable.
func (s *Service) Revoke(ctx context.Context, now time.Time, ownerID, reason, originAddr string) error {
	if reason == "" {
		reason = ReasonUserRequested
	}

	n, err := s.store.RevokeAllForOwner(ctx, now, ownerID, reason, originAddr)
	if err != nil {
		return err
	}
	s.metrics.addRevoked(reason, n)
	return nil
}

// RevokeOne revokes the single session matching presentedToken
// (ordinary logout). Presenting an unknown or already-revoked token is
// not an error.
func (s *Service) RevokeOne(ctx context.Context, now time.Time, presentedToken, reason, originAddr string) error {
	presentedToken = strings.TrimSpace(presentedToken)
	if presentedToken == "" || len(presentedToken) > maxPresentedTokenLen {
		return nil
	}
	if reason == "" {
		reason = ReasonLogout
	}

	changed, err := s.store.RevokeByHash(ctx, now, s.hasher.HashHex(presentedToken), reason, originAddr)
	if err != nil {
		return err
	}
	if changed {
		s.metrics.addRevoked(reason, 1)
	}
	return nil
}

// Sessions lists every session record of ownerID, any state, for
// back-office and "active devices" views.
func (s *Service) Sessions(ctx context.Context, ownerID string) ([]Record, error) {
	return s.store.FindAllByOwner(ctx, ownerID)
}

// VerifyAccess verifies an access token. Stateless: revocation of the
// backing session does not invalidate already-minted access tokens,
// which is why their TTL is minutes.
func (s *Service) VerifyAccess(tok string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(tok, now)
}
