package wcrypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// TestAESKeyWrapRFC3394Vector checks against RFC 3394 §4.1's 128-bit KEK /
// 128-bit key test vector.
func TestAESKeyWrapRFC3394Vector(t *testing.T) {
	kek, _ := hex.DecodeString("000102030405060708090A0B0C0D0E0F")
	key, _ := hex.DecodeString("00112233445566778899AABBCCDDEEFF")
	wantWrapped, _ := hex.DecodeString("1FA68B0A8112B447AEF34BD8FB5A7B829D3E862371D2CFE5")

	wrapped, err := aesKeyWrap(kek, key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if !bytes.Equal(wrapped, wantWrapped) {
		t.Fatalf("wrapped = %x, want %x", wrapped, wantWrapped)
	}

	unwrapped, err := aesKeyUnwrap(kek, wrapped)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if !bytes.Equal(unwrapped, key) {
		t.Fatalf("unwrapped = %x, want %x", unwrapped, key)
	}
}

func TestAESKeyUnwrapRejectsTamperedInput(t *testing.T) {
	kek, _ := hex.DecodeString("000102030405060708090A0B0C0D0E0F")
	key, _ := hex.DecodeString("00112233445566778899AABBCCDDEEFF")
	wrapped, err := aesKeyWrap(kek, key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	wrapped[0] ^= 0xFF
	if _, err := aesKeyUnwrap(kek, wrapped); err == nil {
		t.Fatal("expected integrity failure on tampered input")
	}
}
