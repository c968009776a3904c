// Package vault encrypts derived private keys for storage.
//
// Keys are sealed with AES-256-CBC under a process-wide 32-byte key. A fresh random IV is generated per call and
// stored alongside the ciphertext, so two separately provisioned accounts are not distinguishable by their blobs even
// though derivation itself is deterministic. The plaintext key must never reach a log line or an API response.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
)

// Errors returned
var (
	ErrKeyLength     = errors.New("encryption key must be exactly 32 bytes")
	ErrMalformedBlob = errors.New("encrypted blob is not iv:ciphertext hex")
)

// Vault seals and opens private keys with a symmetric key loaded once at startup.
type Vault struct {
	key []byte
}

// New returns a Vault for the given key. Services must treat an error here as fatal.
func New(key string) (*Vault, error) {
	if len(key) != 32 {
		return nil, ErrKeyLength
	}

	return &Vault{key: []byte(key)}, nil
}

// Encrypt seals a private key into an opaque "hex(iv):hex(ciphertext)" blob.
func (v *Vault) Encrypt(privKey []byte) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err = rand.Read(iv); err != nil {
		return "", err
	}

	plain := pad(privKey, aes.BlockSize)
	ct := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, plain)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt is the inverse of Encrypt. It is not exercised by the deposit flow but completes the key lifecycle for
// recovery tooling.
func (v *Vault) Decrypt(blob string) ([]byte, error) {
	parts := strings.SplitN(blob, ":", 2)
	if len(parts) != 2 {
		return nil, ErrMalformedBlob
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return nil, ErrMalformedBlob
	}

	ct, err := hex.DecodeString(parts[1])
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, ErrMalformedBlob
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	return unpad(plain, aes.BlockSize)
}

// pad applies PKCS#7 padding.
func pad(b []byte, size int) []byte {
	n := size - len(b)%size

	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad removes PKCS#7 padding.
func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrMalformedBlob
	}

	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, ErrMalformedBlob
	}

	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrMalformedBlob
		}
	}

	return b[:len(b)-n], nil
}
