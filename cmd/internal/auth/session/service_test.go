package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HabGLH/ecommerce/cmd/identity"
)

const testAddr = "203.0.113.10"

func newTestService(t *testing.T) (*Service, *MemoryStore, *identity.MemoryLookup) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.AccessTokenSecret = "test-access-secret-test-access-secret"

	store := NewMemoryStore()
	users := identity.NewMemoryLookup()

	tokens, err := NewJWTIssuer(cfg)
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}

	svc, err := NewService(cfg, store, users, tokens)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, users
}

func putUser(t *testing.T, users *identity.MemoryLookup, id string) identity.User {
	t.Helper()

	u := identity.User{
		ID:     id,
		Name:   "Test Shopper",
		Email:  id + "@example.com",
		Role:   identity.RoleCustomer,
		Status: "active",
	}
	users.Put(u)
	return u
}

func TestService_IssueAndConsume_RotatesInPlace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, users := newTestService(t)
	user := putUser(t, users, "u-1")

	now := time.Now().UTC()
	issued, err := svc.Issue(ctx, now, user.ID, testAddr)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.RefreshToken == "" || issued.Record.SessionID == "" {
		t.Fatalf("Issue: expected non-empty token and session id")
	}
	if !issued.Record.Active(now) {
		t.Fatalf("Issue: expected active record")
	}

	rotated, err := svc.Consume(ctx, now.Add(time.Minute), issued.RefreshToken, testAddr)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if rotated.Record.SessionID != issued.Record.SessionID {
		t.Fatalf("expected same session id after rotation, got %q and %q",
			issued.Record.SessionID, rotated.Record.SessionID)
	}
	if rotated.RefreshToken == issued.RefreshToken {
		t.Fatalf("expected a fresh refresh token after rotation")
	}
	if rotated.AccessToken == "" {
		t.Fatalf("expected an access token")
	}
	if rotated.Owner.ID != user.ID {
		t.Fatalf("expected owner %q, got %q", user.ID, rotated.Owner.ID)
	}
	if !rotated.RefreshExpiresAt.After(issued.Record.ExpiresAt) {
		t.Fatalf("expected rotation to extend expiry")
	}
	if rotated.Record.LastUsedAt == nil {
		t.Fatalf("expected last_used_at set after rotation")
	}

	claims, err := svc.VerifyAccess(rotated.AccessToken, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != user.ID || claims.Email != user.Email {
		t.Fatalf("unexpected access claims: %+v", claims)
	}
}

func TestService_Consume_ReplayedRotatedToken_RevokesFamily(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, users := newTestService(t)
	user := putUser(t, users, "u-reuse")

	now := time.Now().UTC()
	issued1, err := svc.Issue(ctx, now, user.ID, testAddr)
	if err != nil {
		t.Fatalf("Issue(1): %v", err)
	}
	issued2, err := svc.Issue(ctx, now, user.ID, testAddr)
	if err != nil {
		t.Fatalf("Issue(2): %v", err)
	}

	rotated, err := svc.Consume(ctx, now.Add(time.Minute), issued1.RefreshToken, testAddr)
	if err != nil {
		t.Fatalf("Consume(1): %v", err)
	}

	// Replay of the rotated-away token: reuse, not a silent miss.
	_, err = svc.Consume(ctx, now.Add(2*time.Minute), issued1.RefreshToken, testAddr)
	if err != ErrTokenReused {
		t.Fatalf("expected ErrTokenReused on replay, got %v", err)
	}

	// Every session of the owner went down with it, including the
	// unrelated second session and the rotated successor.
	recs, err := svc.Sessions(ctx, user.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	for _, rec := range recs {
		if !rec.Revoked() {
			t.Fatalf("expected record %s revoked after reuse", rec.SessionID)
		}
		if rec.RevocationReason == nil || *rec.RevocationReason != ReasonReuseDetected {
			t.Fatalf("expected reason %q, got %v", ReasonReuseDetected, rec.RevocationReason)
		}
	}

	// The freshly rotated token is now useless too.
	_, err = svc.Consume(ctx, now.Add(3*time.Minute), rotated.RefreshToken, testAddr)
	if err != ErrTokenReused {
		t.Fatalf("expected ErrTokenReused on revoked record, got %v", err)
	}

	_, err = svc.Consume(ctx, now.Add(3*time.Minute), issued2.RefreshToken, testAddr)
	if err != ErrTokenReused {
		t.Fatalf("expected ErrTokenReused on sibling session, got %v", err)
	}
}

func TestService_Consume_Expired_RevokesAndStaysTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, users := newTestService(t)
	user := putUser(t, users, "u-exp")

	now := time.Now().UTC()
	issued, err := svc.Issue(ctx, now, user.ID, testAddr)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	late := issued.Record.ExpiresAt.Add(time.Second)
	_, err = svc.Consume(ctx, late, issued.RefreshToken, testAddr)
	if err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	recs, err := svc.Sessions(ctx, user.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(recs) != 1 || !recs[0].Revoked() {
		t.Fatalf("expected the expired record revoked in place")
	}
	if recs[0].RevocationReason == nil || *recs[0].RevocationReason != ReasonExpired {
		t.Fatalf("expected reason %q, got %v", ReasonExpired, recs[0].RevocationReason)
	}

	// A second touch hits a revoked record and reads as reuse.
	_, err = svc.Consume(ctx, late.Add(time.Second), issued.RefreshToken, testAddr)
	if err != ErrTokenReused {
		t.Fatalf("expected ErrTokenReused on second touch, got %v", err)
	}
}

func TestService_Consume_UnknownOrMalformedToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, _ := newTestService(t)
	now := time.Now().UTC()

	for _, tok := range []string{"", "   ", "never-issued-token"} {
		if _, err := svc.Consume(ctx, now, tok, testAddr); err != ErrInvalidToken {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}

	huge := make([]byte, maxPresentedTokenLen+1)
	for i := range huge {
		huge[i] = 'a'
	}
	if _, err := svc.Consume(ctx, now, string(huge), testAddr); err != ErrInvalidToken {
		t.Fatalf("oversized token: expected ErrInvalidToken, got %v", err)
	}
}

func TestService_Consume_DanglingOwner_DoesNotBurnToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, users := newTestService(t)
	user := putUser(t, users, "u-gone")

	now := time.Now().UTC()
	issued, err := svc.Issue(ctx, now, user.ID, testAddr)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	users.Delete(user.ID)
	_, err = svc.Consume(ctx, now.Add(time.Minute), issued.RefreshToken, testAddr)
	if err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	// The owner lookup happens before rotation, so the token survives a
	// transiently missing owner.
	users.Put(user)
	if _, err := svc.Consume(ctx, now.Add(2*time.Minute), issued.RefreshToken, testAddr); err != nil {
		t.Fatalf("Consume after owner restored: %v", err)
	}
}

func TestService_RevokeOne_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, users := newTestService(t)
	user := putUser(t, users, "u-logout")

	now := time.Now().UTC()
	issued, err := svc.Issue(ctx, now, user.ID, testAddr)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.RevokeOne(ctx, now, issued.RefreshToken, "", testAddr); err != nil {
		t.Fatalf("RevokeOne: %v", err)
	}
	if err := svc.RevokeOne(ctx, now.Add(time.Second), issued.RefreshToken, "", testAddr); err != nil {
		t.Fatalf("RevokeOne(repeat): %v", err)
	}
	if err := svc.RevokeOne(ctx, now, "never-issued", "", testAddr); err != nil {
		t.Fatalf("RevokeOne(unknown): %v", err)
	}

	recs, err := svc.Sessions(ctx, user.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(recs) != 1 || !recs[0].Revoked() {
		t.Fatalf("expected the session revoked")
	}
	if recs[0].RevocationReason == nil || *recs[0].RevocationReason != ReasonLogout {
		t.Fatalf("expected reason %q, got %v", ReasonLogout, recs[0].RevocationReason)
	}

	_, err = svc.Consume(ctx, now.Add(2*time.Second), issued.RefreshToken, testAddr)
	if err != ErrTokenReused {
		t.Fatalf("expected ErrTokenReused after logout, got %v", err)
	}
}

func TestService_Revoke_AllSessionsOfOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, users := newTestService(t)
	user := putUser(t, users, "u-everywhere")
	other := putUser(t, users, "u-bystander")

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if _, err := svc.Issue(ctx, now, user.ID, testAddr); err != nil {
			t.Fatalf("Issue(%d): %v", i, err)
		}
	}
	bystander, err := svc.Issue(ctx, now, other.ID, testAddr)
	if err != nil {
		t.Fatalf("Issue(bystander): %v", err)
	}

	if err := svc.Revoke(ctx, now.Add(time.Second), user.ID, "", testAddr); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	recs, err := svc.Sessions(ctx, user.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	for _, rec := range recs {
		if !rec.Revoked() {
			t.Fatalf("expected record %s revoked", rec.SessionID)
		}
		if rec.RevocationReason == nil || *rec.RevocationReason != ReasonUserRequested {
			t.Fatalf("expected reason %q, got %v", ReasonUserRequested, rec.RevocationReason)
		}
	}

	// Other owners are untouched.
	if _, err := svc.Consume(ctx, now.Add(2*time.Second), bystander.RefreshToken, testAddr); err != nil {
		t.Fatalf("bystander Consume: %v", err)
	}
}

func TestService_Issue_ConcurrentTokensAreDistinct(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, users := newTestService(t)
	user := putUser(t, users, "u-conc")

	const n = 32
	now := time.Now().UTC()

	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			issued, err := svc.Issue(ctx, now, user.ID, testAddr)
			tokens[i], errs[i] = issued.RefreshToken, err
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Issue(%d): %v", i, errs[i])
		}
		if _, dup := seen[tokens[i]]; dup {
			t.Fatalf("duplicate refresh token issued")
		}
		seen[tokens[i]] = struct{}{}
	}

	recs, err := svc.Sessions(ctx, user.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(recs) != n {
		t.Fatalf("expected %d records, got %d", n, len(recs))
	}
}

func TestService_Consume_ConcurrentSameToken_SingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, users := newTestService(t)
	user := putUser(t, users, "u-race")

	now := time.Now().UTC()
	issued, err := svc.Issue(ctx, now, user.ID, testAddr)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Consume(ctx, now.Add(time.Second), issued.RefreshToken, testAddr)
		}(i)
	}
	wg.Wait()

	var wins, losses, reuses int
	for _, err := range errs {
		switch err {
		case nil:
			wins++
		case ErrInvalidToken:
			losses++
		case ErrTokenReused:
			reuses++
		default:
			t.Fatalf("unexpected outcome: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning rotation, got %d (losses=%d reuses=%d)",
			wins, losses, reuses)
	}
}

// dupOnceStore forces the first Insert to report a hash collision so the
// issue-side retry path can be exercised deterministically.
type dupOnceStore struct {
	Store
	mu    sync.Mutex
	fired bool
}

func (s *dupOnceStore) Insert(ctx context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	fired := s.fired
	s.fired = true
	s.mu.Unlock()

	if !fired {
		return Record{}, ErrDuplicateHash
	}
	return s.Store.Insert(ctx, rec)
}

func TestService_Issue_RetriesOnceOnDuplicateHash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.AccessTokenSecret = "test-access-secret-test-access-secret"

	tokens, err := NewJWTIssuer(cfg)
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}

	store := &dupOnceStore{Store: NewMemoryStore()}
	users := identity.NewMemoryLookup()
	svc, err := NewService(cfg, store, users, tokens)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	issued, err := svc.Issue(ctx, time.Now().UTC(), "u-dup", testAddr)
	if err != nil {
		t.Fatalf("Issue: expected the retry to succeed, got %v", err)
	}
	if issued.RefreshToken == "" {
		t.Fatalf("expected a refresh token from the retried insert")
	}
}

type alwaysDupStore struct{ Store }

func (alwaysDupStore) Insert(context.Context, Record) (Record, error) {
	return Record{}, ErrDuplicateHash
}

func TestService_Issue_SecondCollisionSurfaces(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AccessTokenSecret = "test-access-secret-test-access-secret"

	tokens, err := NewJWTIssuer(cfg)
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}

	svc, err := NewService(cfg, alwaysDupStore{NewMemoryStore()}, identity.NewMemoryLookup(), tokens)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = svc.Issue(context.Background(), time.Now().UTC(), "u-dup2", testAddr)
	if err != ErrDuplicateHash {
		t.Fatalf("expected ErrDuplicateHash after second collision, got %v", err)
	}
}

func TestService_EndToEndLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _, users := newTestService(t)
	user := putUser(t, users, "u-e2e")

	now := time.Now().UTC()

	// Login.
	issued, err := svc.Issue(ctx, now, user.ID, testAddr)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Two ordinary refreshes.
	r1, err := svc.Consume(ctx, now.Add(1*time.Hour), issued.RefreshToken, testAddr)
	if err != nil {
		t.Fatalf("Consume(1): %v", err)
	}
	r2, err := svc.Consume(ctx, now.Add(2*time.Hour), r1.RefreshToken, testAddr)
	if err != nil {
		t.Fatalf("Consume(2): %v", err)
	}

	// An attacker replays the token from the first refresh.
	_, err = svc.Consume(ctx, now.Add(3*time.Hour), r1.RefreshToken, testAddr)
	if err != ErrTokenReused {
		t.Fatalf("expected ErrTokenReused on replay, got %v", err)
	}

	// The legitimate client's current token is dead too.
	_, err = svc.Consume(ctx, now.Add(3*time.Hour), r2.RefreshToken, testAddr)
	if err != ErrTokenReused {
		t.Fatalf("expected ErrTokenReused for the legitimate holder, got %v", err)
	}

	// Already-minted access tokens keep verifying until their own expiry.
	if _, err := svc.VerifyAccess(r2.AccessToken, now.Add(2*time.Hour+time.Minute)); err != nil {
		t.Fatalf("VerifyAccess after revocation: %v", err)
	}
}

func TestNewService_RejectsBadWiring(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AccessTokenSecret = "test-access-secret-test-access-secret"

	tokens, err := NewJWTIssuer(cfg)
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}
	store := NewMemoryStore()
	users := identity.NewMemoryLookup()

	if _, err := NewService(cfg, nil, users, tokens); err != ErrConfig {
		t.Fatalf("nil store: expected ErrConfig, got %v", err)
	}
	if _, err := NewService(cfg, store, nil, tokens); err != ErrConfig {
		t.Fatalf("nil users: expected ErrConfig, got %v", err)
	}
	if _, err := NewService(cfg, store, users, nil); err != ErrConfig {
		t.Fatalf("nil tokens: expected ErrConfig, got %v", err)
	}

	bad := cfg
	bad.RefreshTokenBytes = 16
	if _, err := NewService(bad, store, users, tokens); err != ErrConfig {
		t.Fatalf("small refresh bytes: expected ErrConfig, got %v", err)
	}
}
