package wcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"fmt"

	"github.com/weftfs/weft/internal/werrors"
)

// SecretSize is the length in bytes of a content-encryption Secret.
const SecretSize = 32

const nonceSize = 12

// Secret is a 32-byte symmetric key used for AES-256-GCM content encryption.
// Every blob in the DAG is encrypted under its own Secret, so encryption
// stays content-addressable and subtrees can be rekeyed independently.
type Secret [SecretSize]byte

// GenerateSecret returns a fresh random Secret.
func GenerateSecret() (Secret, error) {
	var s Secret
	if _, err := crand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("generate secret: %w", err)
	}
	return s, nil
}

// Encrypt seals plaintext under s, producing a frame laid out as
// nonce(12) || ciphertext || tag(16). The frame's Link.Hash (computed by
// whatever BlobStore stores it) is the BLAKE3-256 of these exact bytes;
// nothing about the plaintext is derivable from the frame without s.
func (s Secret) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := crand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt opens a frame produced by Encrypt.
func (s Secret) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) < nonceSize {
		return nil, werrors.Wrap(werrors.Decrypt, "malformed frame", fmt.Errorf("frame too short: %d bytes", len(frame)))
	}
	nonce, sealed := frame[:nonceSize], frame[nonceSize:]
	block, err := aes.NewCipher(s[:])
	if err != nil {
		return nil, werrors.Wrap(werrors.Decrypt, "aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, werrors.Wrap(werrors.Decrypt, "gcm", err)
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, werrors.Wrap(werrors.Decrypt, "gcm open", err)
	}
	return plaintext, nil
}
