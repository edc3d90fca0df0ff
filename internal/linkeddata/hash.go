// Package linkeddata implements the content-addressed block layer: BLAKE3
// hashing, codec-tagged Links, and the canonical DAG-CBOR encoding used for
// Node, Manifest, and Pins blocks.
package linkeddata

import (
	"encoding/base32"
	"fmt"

	"lukechampine.com/blake3"
)

// HashSize is the length in bytes of a Hash (BLAKE3-256).
const HashSize = 32

// Hash is a BLAKE3-256 digest of encoded, post-encryption block bytes.
type Hash [HashSize]byte

var base32Enc = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// SumHash returns the BLAKE3-256 hash of data.
func SumHash(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// String renders the hash as lower-case base32, CID-flavored but without
// pulling in the full multihash/multibase varint framing.
func (h Hash) String() string {
	return base32Enc.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (used as a sentinel, e.g. in
// PingPeer when no local head exists yet).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash parses the base32 string produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	b, err := base32Enc.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("parse hash: want %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// Less gives Hash a total order, used as the final tie-break within Link.Less.
func (h Hash) Less(o Hash) bool {
	for i := range h {
		if h[i] != o[i] {
			return h[i] < o[i]
		}
	}
	return false
}
