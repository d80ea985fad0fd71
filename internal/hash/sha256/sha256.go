// Package sha256 derives the hex digests that name page snapshots in the
// blob store. Identical page bodies hash to the same object path, so a
// re-rendered page never stores twice.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher is the content hasher for snapshot bodies.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex SHA-256 digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
