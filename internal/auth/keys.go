// Package auth verifies the API tokens presented to rustci-server.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// HashPrefix marks a configured token given as its SHA-256 digest, so the
// clear token never has to be written to a config file.
const HashPrefix = "sha256:"

// ErrInvalidTokenHash is returned for a hashed token that is not 64 hex digits.
var ErrInvalidTokenHash = errors.New("invalid api token hash")

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Verifier matches presented tokens against the configured one.
type Verifier struct {
	digest []byte
}

// NewVerifier accepts either a clear token or HashPrefix followed by the hex
// digest printed by `rustci hash-token`.
func NewVerifier(configured string) (*Verifier, error) {
	configured = strings.TrimSpace(configured)
	if digest, ok := strings.CutPrefix(configured, HashPrefix); ok {
		b, err := hex.DecodeString(strings.ToLower(digest))
		if err != nil || len(b) != sha256.Size {
			return nil, ErrInvalidTokenHash
		}
		return &Verifier{digest: b}, nil
	}
	sum := sha256.Sum256([]byte(configured))
	return &Verifier{digest: sum[:]}, nil
}

// Verify reports whether token matches. Digests are compared in constant time.
func (v *Verifier) Verify(token string) bool {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return subtle.ConstantTimeCompare(sum[:], v.digest) == 1
}
