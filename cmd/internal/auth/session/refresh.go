package session

import (
	"crypto/rand"
	"encoding/base64"
)

// newOpaqueToken draws nBytes from the CSPRNG and encodes them as
// printable text. The token carries no claims; its entropy is the
// security boundary.
func newOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	// URL-safe, no padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}
