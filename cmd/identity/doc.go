// Package identity exposes the storefront's user directory to the
// session subsystem.
//
// The session core only consumes it: it resolves a session owner to the
// identity data needed for access-credential minting. User
// administration (registration, credentials, profile) lives elsewhere.
package identity
