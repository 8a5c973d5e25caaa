// Package sha256 provides SHA-256 digests used to derive broker delivery keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hasher digests raw bytes or JSON-encoded values.
type Hasher struct {
	// Length truncates hex digests when positive.
	Length int
}

// New returns a SHA-256 hasher producing hex digests of the given length
// (0 keeps the full 64 characters).
func New(length int) *Hasher {
	return &Hasher{Length: length}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.Length > 0 && h.Length < len(digest) {
		digest = digest[:h.Length]
	}
	return digest, nil
}

// HashJSON hashes the JSON encoding of v.
func (h *Hasher) HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal for hash: %w", err)
	}
	return h.Hash(data)
}
