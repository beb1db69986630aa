package session

import "errors"

var (
	// ErrInvalidToken is returned when a presented refresh token matches no
	// record (never existed, purged, or lost a rotation race).
	ErrInvalidToken = errors.New("invalid refresh token")

	// ErrTokenExpired is returned when the matched record's TTL has passed.
	// The record is revoked as a side effect before this is returned.
	ErrTokenExpired = errors.New("refresh token expired")

	// ErrTokenReused is returned when a token already rotated away or
	// revoked is presented again. Every active session of the owner is
	// revoked as a side effect before this is returned.
	ErrTokenReused = errors.New("refresh token reuse detected")

	// ErrUserNotFound is returned when a valid record references an owner
	// the identity lookup can no longer resolve.
	ErrUserNotFound = errors.New("session owner not found")

	// ErrDuplicateHash is returned by stores when an inserted record's
	// credential hash collides with an existing one. Issue retries once.
	ErrDuplicateHash = errors.New("duplicate credential hash")

	// ErrSessionNotFound is the store-level miss for lookups and updates.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)
