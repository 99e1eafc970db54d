// Package digest is the hash service used for content fingerprints and
// message-id derived storage keys.
package digest

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
)

// Algorithm names accepted by New.
const (
	BLAKE3 = "blake3"
	SHA512 = "sha512"
)

// Hasher computes digests over byte buffers. It is safe for concurrent use.
type Hasher struct {
	name    string
	newHash func() hash.Hash
}

// New returns the hasher for algo. An empty name selects BLAKE3.
func New(algo string) (*Hasher, error) {
	switch algo {
	case "", BLAKE3:
		return &Hasher{name: BLAKE3, newHash: func() hash.Hash { return blake3.New() }}, nil
	case SHA512:
		return &Hasher{name: SHA512, newHash: sha512.New}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algo)
	}
}

// Name reports the algorithm.
func (h *Hasher) Name() string { return h.name }

// Sum returns the digest of data.
func (h *Hasher) Sum(data []byte) []byte {
	hh := h.newHash()
	hh.Write(data)
	return hh.Sum(nil)
}

// SumHex returns the lowercase hex digest of s.
func (h *Hasher) SumHex(s string) string {
	return hex.EncodeToString(h.Sum([]byte(s)))
}

// Verify reports whether data hashes to sum.
func (h *Hasher) Verify(data, sum []byte) bool {
	return subtle.ConstantTimeCompare(h.Sum(data), sum) == 1
}
