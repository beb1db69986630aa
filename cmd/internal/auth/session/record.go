package session

import "time"

// Revocation reasons recorded on session records. Free text is allowed
// by the store; these are the values the lifecycle writes itself.
const (
	ReasonExpired       = "expired"
	ReasonLogout        = "logout"
	ReasonReuseDetected = "reuse-detected"
	ReasonUserRequested = "user-requested"
)

// Record is the durable state of one login session's refresh capability.
//
// CredentialHash is the digest of the currently valid opaque token and
// is unique among non-revoked records. PrevCredentialHash holds the one
// hash most recently rotated away; it is never a valid credential, only
// the tripwire that lets a replayed pre-rotation token be recognised as
// reuse instead of disappearing into a lookup miss.
type Record struct {
	SessionID string
	OwnerID   string

	CredentialHash     string
	PrevCredentialHash *string

	IssuedAt   time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time

	RevokedAt        *time.Time
	RevocationReason *string
	RevokedFromAddr  *string

	CreatedFromAddr string
}

// Revoked reports whether the record has been revoked.
func (r Record) Revoked() bool { return r.RevokedAt != nil }

// Expired reports whether the record's TTL has passed at now.
func (r Record) Expired(now time.Time) bool { return !r.ExpiresAt.After(now) }

// Active reports whether the record is neither revoked nor expired at now.
func (r Record) Active(now time.Time) bool { return !r.Revoked() && !r.Expired(now) }
