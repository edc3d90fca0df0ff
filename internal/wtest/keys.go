package wtest

import "github.com/weftfs/weft/internal/wcrypto"

// seed expands a single byte into a 32-byte seed, so tests can write
// wtest.Key(1) instead of spelling out a full seed literal.
func seed(b byte) [32]byte {
	var s [32]byte
	for i := range s {
		s[i] = b
	}
	return s
}

// Key returns a deterministic Ed25519 identity for the given seed byte.
// Scenario tests use small, memorable seeds (1 for Alice, 2 for Bob, 3 for
// a mirror) so failures are reproducible without printing key material.
func Key(b byte) wcrypto.SecretKey {
	return wcrypto.SecretKeyFromSeed(seed(b))
}

// Well-known seeds used across the scenario tests in internal/peer.
const (
	SeedAlice  byte = 1
	SeedBob    byte = 2
	SeedMirror byte = 3
)
