// Package token provides the one-way hashing primitive for opaque
// session credentials.
//
// It is the single source of truth for refresh-token hashing behavior.
//
// Design goals:
// - Default mode: SHA-256(token), matching the storefront's historical data.
// - Hardened mode: HMAC-SHA256(token, key) when a server-side key is configured.
// - Stable 64-char hex output usable directly as a store lookup key.
//
// Environment:
// - SESSIOND_TOKEN_HMAC_KEY: when set, enables HMAC mode.
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token
