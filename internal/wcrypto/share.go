package wcrypto

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/weftfs/weft/internal/werrors"
)

// SecretShare is an ECDH-wrapped envelope that grants one principal the
// ability to recover a Secret: an ephemeral X25519 public key plus the
// AES-Key-Wrapped Secret under the ECDH-derived key-encryption key.
type SecretShare struct {
	EphPub  [32]byte // ephemeral X25519 public key (Montgomery u-coordinate)
	Wrapped []byte   // AES-KW(KEK, secret), 40 bytes for a 32-byte Secret
}

// NewSecretShare wraps secret so only the holder of recipient's matching
// SecretKey can recover it, per the ECDH key-wrap scheme in the spec:
// ephemeral X25519 keypair, shared = X25519(eph_priv, recipient_mont),
// KEK = HKDF(shared), wrapped = AES-KW(KEK, secret).
func NewSecretShare(secret Secret, recipient PublicKey) (SecretShare, error) {
	recipientMont, err := montgomeryFromEd25519Public(recipient.pub)
	if err != nil {
		return SecretShare{}, werrors.Wrap(werrors.InvalidPublicKey, "convert recipient key", err)
	}

	ephPub, ephPriv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return SecretShare{}, fmt.Errorf("generate ephemeral key: %w", err)
	}
	ephPrivMont, err := montgomeryFromEd25519Private(ephPriv)
	if err != nil {
		return SecretShare{}, fmt.Errorf("convert ephemeral key: %w", err)
	}
	_ = ephPub

	shared, err := curve25519.X25519(ephPrivMont[:], recipientMont[:])
	if err != nil {
		return SecretShare{}, werrors.Wrap(werrors.InvalidPublicKey, "ecdh", err)
	}

	kek, err := deriveKEK(shared)
	if err != nil {
		return SecretShare{}, err
	}

	wrapped, err := aesKeyWrap(kek, secret[:])
	if err != nil {
		return SecretShare{}, fmt.Errorf("wrap secret: %w", err)
	}

	ephPubMont, err := montgomeryFromEd25519Public(ephPub)
	if err != nil {
		return SecretShare{}, fmt.Errorf("convert ephemeral pubkey: %w", err)
	}

	return SecretShare{EphPub: ephPubMont, Wrapped: wrapped}, nil
}

// Unwrap recovers the Secret, given the SecretKey of the principal the share
// was addressed to.
func (s SecretShare) Unwrap(recipient SecretKey) (Secret, error) {
	recipientMont, err := montgomeryFromEd25519Private(recipient.priv)
	if err != nil {
		return Secret{}, werrors.Wrap(werrors.UnwrapFailed, "convert recipient key", err)
	}

	shared, err := curve25519.X25519(recipientMont[:], s.EphPub[:])
	if err != nil {
		return Secret{}, werrors.Wrap(werrors.UnwrapFailed, "ecdh", err)
	}

	kek, err := deriveKEK(shared)
	if err != nil {
		return Secret{}, werrors.Wrap(werrors.UnwrapFailed, "derive kek", err)
	}

	raw, err := aesKeyUnwrap(kek, s.Wrapped)
	if err != nil {
		return Secret{}, werrors.Wrap(werrors.UnwrapFailed, "unwrap", err)
	}
	if len(raw) != SecretSize {
		return Secret{}, werrors.New(werrors.UnwrapFailed, fmt.Sprintf("unwrapped %d bytes, want %d", len(raw), SecretSize), nil)
	}
	var secret Secret
	copy(secret[:], raw)
	return secret, nil
}

func deriveKEK(shared []byte) ([]byte, error) {
	kdf := hkdf.New(sha512.New, shared, nil, []byte("weftfs/secret-share/kek"))
	kek := make([]byte, 32)
	if _, err := io.ReadFull(kdf, kek); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return kek, nil
}

// montgomeryFromEd25519Public performs the RFC 7748 birational map from an
// Edwards25519 point (an Ed25519 public key) to its Montgomery u-coordinate
// (an X25519 public key), via filippo.io/edwards25519's Point type — the
// same primitive the Go standard library's own ed25519 implementation is
// built on.
func montgomeryFromEd25519Public(pub ed25519.PublicKey) ([32]byte, error) {
	var out [32]byte
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return out, fmt.Errorf("invalid edwards25519 point: %w", err)
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}

// montgomeryFromEd25519Private converts an Ed25519 private key's clamped
// SHA-512(seed) scalar into the equivalent X25519 private scalar.
func montgomeryFromEd25519Private(priv ed25519.PrivateKey) ([32]byte, error) {
	var out [32]byte
	h := sha512.Sum512(priv.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	copy(out[:], h[:32])
	return out, nil
}
