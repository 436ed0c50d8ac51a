// Package wireformat is ewig's format layer: the canonical binary
// header, hash and checksum primitives, and optional compression
// framing that every other subsystem builds on.
package wireformat

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/swarmguard/ewig/internal/ewigerr"
)

// HashSize is the width of a SHA-256 digest in bytes.
const HashSize = 32

// Hash is a 32-byte SHA-256 digest. The all-zero value is the sentinel
// root/null parent.
type Hash [HashSize]byte

// ZeroHash is the sentinel root/null-parent hash.
var ZeroHash = Hash{}

// IsZero reports whether h is the all-zero sentinel hash.
func (h Hash) IsZero() bool { return h == ZeroHash }

// Sum computes the SHA-256 digest of b.
func Sum(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// Hex renders h as lowercase 64-character hex, no prefix.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String satisfies fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// ParseHash decodes a lowercase 64-character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, ewigerr.ErrInvalidHash
	}
	if len(b) != HashSize {
		return h, ewigerr.ErrInvalidHash
	}
	copy(h[:], b)
	return h, nil
}
