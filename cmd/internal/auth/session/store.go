package session

import (
	"context"
	"time"
)

// Store abstracts persistence for session records.
//
// Implementations must make Rotate and the revocation ops conditional
// single-shot updates: rotation succeeds only while the record still
// carries the hash the caller looked up and is not revoked, so two
// concurrent rotations of the same token can never both win.
type Store interface {
	// FindByHash loads the record whose current OR previous credential
	// hash equals credentialHash. Returns ErrSessionNotFound on a miss.
	FindByHash(ctx context.Context, credentialHash string) (Record, error)

	// FindAllByOwner returns every record (any state) belonging to ownerID.
	FindAllByOwner(ctx context.Context, ownerID string) ([]Record, error)

	// Insert persists a new record, assigning its SessionID, and returns
	// the stored form. Returns ErrDuplicateHash when the credential hash
	// collides with an existing record.
	Insert(ctx context.Context, rec Record) (Record, error)

	// Update fully replaces the record identified by rec.SessionID.
	// Returns ErrSessionNotFound when no such record exists.
	Update(ctx context.Context, rec Record) error

	// Rotate atomically swaps the record's credential in place: oldHash
	// shifts into PrevCredentialHash, newHash becomes current, expiry
	// advances to expiresAt, last-used is set to now, and any revocation
	// state is cleared (the one legitimate un-revoke). It applies only if
	// the record still carries oldHash and is not revoked; returns false
	// when that compare-and-swap misses.
	Rotate(ctx context.Context, now time.Time, sessionID, oldHash, newHash string, expiresAt time.Time) (bool, error)

	// RevokeByHash revokes the single non-revoked record whose current
	// hash equals credentialHash. A miss (no such record, or already
	// revoked) is not an error; the bool reports whether a record
	// transitioned.
	RevokeByHash(ctx context.Context, now time.Time, credentialHash, reason, fromAddr string) (bool, error)

	// RevokeAllForOwner revokes every non-revoked record of ownerID.
	// Each record transitions exactly once; returns how many did.
	RevokeAllForOwner(ctx context.Context, now time.Time, ownerID, reason, fromAddr string) (int64, error)

	// DeleteExpiredBefore removes records whose expiry passed before
	// cutoff. Stores with native TTL expiry may implement this as a no-op.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
