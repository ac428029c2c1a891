// Package sha256 implements scraper.Hasher for archive paths and page
// events.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher hashes page bodies with SHA-256.
type Hasher struct{}

func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
