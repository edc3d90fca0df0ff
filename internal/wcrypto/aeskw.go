package wcrypto

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
)

// aesKeyWrap implements RFC 3394 AES Key Wrap: no example in the corpus
// provides it (it is a narrow, fully-specified primitive, not a general
// crypto library concern), so it is implemented directly on crypto/aes.
// Wraps a key of n 8-byte blocks using kek, producing (n+1) blocks.
func aesKeyWrap(kek, key []byte) ([]byte, error) {
	if len(key)%8 != 0 || len(key) == 0 {
		return nil, fmt.Errorf("aeskw: key length %d not a multiple of 8", len(key))
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("aeskw: %w", err)
	}
	n := len(key) / 8
	r := make([][]byte, n)
	for i := 0; i < n; i++ {
		r[i] = append([]byte(nil), key[i*8:(i+1)*8]...)
	}
	a := []byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], a)
			copy(buf[8:], r[i-1])
			block.Encrypt(buf, buf)
			t := uint64(n*j + i)
			msb := append([]byte(nil), buf[:8]...)
			xorCounter(msb, t)
			a = msb
			copy(r[i-1], buf[8:])
		}
	}

	out := make([]byte, 0, (n+1)*8)
	out = append(out, a...)
	for _, blk := range r {
		out = append(out, blk...)
	}
	return out, nil
}

// aesKeyUnwrap is the inverse of aesKeyWrap.
func aesKeyUnwrap(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped)%8 != 0 || len(wrapped) < 16 {
		return nil, fmt.Errorf("aeskw: wrapped length %d invalid", len(wrapped))
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("aeskw: %w", err)
	}
	n := len(wrapped)/8 - 1
	a := append([]byte(nil), wrapped[:8]...)
	r := make([][]byte, n)
	for i := 0; i < n; i++ {
		r[i] = append([]byte(nil), wrapped[(i+1)*8:(i+2)*8]...)
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			msb := append([]byte(nil), a...)
			xorCounter(msb, t)
			copy(buf[:8], msb)
			copy(buf[8:], r[i-1])
			block.Decrypt(buf, buf)
			a = append([]byte(nil), buf[:8]...)
			copy(r[i-1], buf[8:])
		}
	}

	expected := [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}
	for i := range expected {
		if a[i] != expected[i] {
			return nil, fmt.Errorf("aeskw: integrity check failed")
		}
	}

	out := make([]byte, 0, n*8)
	for _, blk := range r {
		out = append(out, blk...)
	}
	return out, nil
}

func xorCounter(msb []byte, t uint64) {
	var cbuf [8]byte
	binary.BigEndian.PutUint64(cbuf[:], t)
	for i := range msb {
		msb[i] ^= cbuf[i]
	}
}
