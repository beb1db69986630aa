// Package session implements the storefront's refresh-token session
// lifecycle: issuance, in-place rotation, reuse detection, and
// revocation.
//
// One login session is one record for its whole life. Rotation swaps
// the record's credential hash in place and remembers the hash it
// rotated away, so a replayed pre-rotation token still finds its
// record and trips reuse detection, which revokes every active session
// of the owner.
//
// Access tokens are short-lived HS256 JWTs minted after a successful
// rotation. Refresh tokens are opaque random strings and are stored
// hashed (HMAC-SHA256 when SESSIOND_TOKEN_HMAC_KEY is set; otherwise
// SHA-256).
//
// Transport (HTTP cookie handling, routing) is intentionally out of
// scope here.
package session
