package vault

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestNewKeyLength(t *testing.T) {
	cases := []struct {
		name, key string
		err       error
	}{
		{"valid", testKey, nil},
		{"empty", "", ErrKeyLength},
		{"short", "tooShort", ErrKeyLength},
		{"long", testKey + "x", ErrKeyLength},
	}

	for _, c := range cases {
		if _, err := New(c.key); !errors.Is(err, c.err) {
			t.Errorf("[%s] Error in New:%e expected:%e", c.name, err, c.err)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("Error creating vault:%e", err)
	}

	cases := [][]byte{
		[]byte{0x01},
		[]byte("a 32-byte private key material.."),
		bytes.Repeat([]byte{0xaa}, 33), // forces a second padded block
	}

	for i, key := range cases {
		blob, err := v.Encrypt(key)
		if err != nil {
			t.Fatalf("[%d] Error encrypting:%e", i, err)
		}

		// blob is hex(iv):hex(ciphertext) with a 16-byte iv
		parts := strings.SplitN(blob, ":", 2)
		if len(parts) != 2 || len(parts[0]) != 32 || len(parts[1]) == 0 || len(parts[1])%32 != 0 {
			t.Errorf("[%d] Blob %s is not iv:ciphertext hex", i, blob)
		}

		got, err := v.Decrypt(blob)
		if err != nil {
			t.Fatalf("[%d] Error decrypting:%e", i, err)
		}

		if !bytes.Equal(got, key) {
			t.Errorf("[%d] Round trip mismatch: got %x expected %x", i, got, key)
		}
	}
}

func TestEncryptRandomIV(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("Error creating vault:%e", err)
	}

	key := []byte("a 32-byte private key material..")

	b1, err := v.Encrypt(key)
	if err != nil {
		t.Fatalf("Error encrypting:%e", err)
	}

	b2, err := v.Encrypt(key)
	if err != nil {
		t.Fatalf("Error encrypting:%e", err)
	}

	if b1 == b2 {
		t.Errorf("Two encryptions of the same key produced the same blob %s", b1)
	}
}

func TestDecryptMalformed(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("Error creating vault:%e", err)
	}

	cases := []struct {
		name, blob string
	}{
		{"empty", ""},
		{"no_separator", "00112233445566778899aabbccddeeff"},
		{"bad_iv_hex", "zz112233445566778899aabbccddeeff:00112233445566778899aabbccddeeff"},
		{"short_iv", "0011:00112233445566778899aabbccddeeff"},
		{"empty_ct", "00112233445566778899aabbccddeeff:"},
		{"partial_block", "00112233445566778899aabbccddeeff:0011"},
	}

	for _, c := range cases {
		if _, err := v.Decrypt(c.blob); !errors.Is(err, ErrMalformedBlob) {
			t.Errorf("[%s] Error in Decrypt:%e expected:%e", c.name, err, ErrMalformedBlob)
		}
	}
}
