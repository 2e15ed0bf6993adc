// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces hex SHA-256 digests for cache keys and synthetic listing IDs.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Short returns the first n hex characters of the digest of s.
func (h *Hasher) Short(s string, n int) string {
	digest, _ := h.Hash([]byte(s))
	if n <= 0 || n > len(digest) {
		return digest
	}
	return digest[:n]
}
