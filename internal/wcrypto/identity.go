// Package wcrypto implements the crypto layer (L0): Ed25519 identities,
// AES-256-GCM content encryption, and ECDH-wrapped secret shares.
package wcrypto

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/weftfs/weft/internal/werrors"
)

const pemBlockType = "PRIVATE KEY"

// SecretKey is an Ed25519 identity's private key.
type SecretKey struct {
	priv ed25519.PrivateKey
}

// PublicKey is an Ed25519 identity's public key, also usable (via its
// Montgomery conversion) as an X25519 ECDH key.
type PublicKey struct {
	pub ed25519.PublicKey
}

// GenerateSecretKey creates a fresh random Ed25519 identity.
func GenerateSecretKey() (SecretKey, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return SecretKey{}, werrors.Wrap(werrors.Decrypt, "generate ed25519 key", err)
	}
	_ = pub
	return SecretKey{priv: priv}, nil
}

// SecretKeyFromSeed deterministically derives an Ed25519 identity from a
// 32-byte seed, for reproducible test fixtures (the seed is never a safe
// substitute for GenerateSecretKey's randomness outside tests).
func SecretKeyFromSeed(seed [32]byte) SecretKey {
	return SecretKey{priv: ed25519.NewKeyFromSeed(seed[:])}
}

// Public returns the public half of sk.
func (sk SecretKey) Public() PublicKey {
	return PublicKey{pub: sk.priv.Public().(ed25519.PublicKey)}
}

// Sign signs msg with sk.
func (sk SecretKey) Sign(msg []byte) []byte {
	return ed25519.Sign(sk.priv, msg)
}

// Bytes returns the raw 64-byte Ed25519 private key.
func (sk SecretKey) Bytes() []byte { return append([]byte(nil), sk.priv...) }

// ToPEM encodes sk as a PKCS#8 PEM block, the on-disk key.pem format named in
// the spec's external interfaces section.
func (sk SecretKey) ToPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(sk.priv)
	if err != nil {
		return nil, fmt.Errorf("marshal ed25519 key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: der}), nil
}

// SecretKeyFromPEM decodes a PKCS#8 PEM-encoded Ed25519 private key.
func SecretKeyFromPEM(data []byte) (SecretKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return SecretKey{}, fmt.Errorf("decode pem: no block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return SecretKey{}, fmt.Errorf("parse pkcs8 key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return SecretKey{}, fmt.Errorf("key.pem does not hold an ed25519 key")
	}
	return SecretKey{priv: priv}, nil
}

// PublicKeyFromHex parses a 32-byte hex-encoded Ed25519 public key.
func PublicKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, werrors.Wrap(werrors.InvalidPublicKey, "decode hex", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return PublicKey{}, werrors.New(werrors.InvalidPublicKey, fmt.Sprintf("want %d bytes, got %d", ed25519.PublicKeySize, len(b)), nil)
	}
	return PublicKey{pub: ed25519.PublicKey(b)}, nil
}

// ToHex renders pk as lower-case hex, the form manifest.shares is keyed by.
func (pk PublicKey) ToHex() string { return hex.EncodeToString(pk.pub) }

// Bytes returns the raw 32-byte Ed25519 public key.
func (pk PublicKey) Bytes() []byte { return append([]byte(nil), pk.pub...) }

// Verify checks an Ed25519 signature produced by the matching SecretKey.
func (pk PublicKey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(pk.pub, msg, sig)
}

func (pk PublicKey) String() string { return pk.ToHex() }
