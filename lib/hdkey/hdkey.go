// Package hdkey implements the deterministic per-user key derivation of the platform.
//
// Every registered user is assigned the address of the BIP44 ethereum path at account = user id (external branch,
// index 0), derived from a single master mnemonic. The same (mnemonic, user id) pair always yields the same key pair,
// so a key can be re-derived for disaster recovery without ever storing the plaintext.
package hdkey

import (
	"encoding/hex"
	"errors"
	"math"
	"strings"

	"github.com/tarancss/hd"
	bip39 "github.com/tyler-smith/go-bip39"
)

// Errors returned
var (
	ErrInvalidMnemonic = errors.New("master mnemonic failed BIP39 checksum validation")
	ErrBadUserID       = errors.New("user id out of derivation range")
)

// Deriver derives per-user key pairs from a master seed.
type Deriver struct {
	w *hd.HdWallet
}

// New validates the mnemonic checksum and wordlist and returns a Deriver over its seed. Services must treat an error
// here as fatal: deriving from a corrupt seed would assign unrecoverable addresses.
func New(mnemonic string) (*Deriver, error) {
	m := strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(m) {
		return nil, ErrInvalidMnemonic
	}

	w, err := hd.Init(bip39.NewSeed(m, ""))
	if err != nil {
		return nil, err
	}

	return &Deriver{w: w}, nil
}

// Derive returns the private key and the lower-cased 0x-hex deposit address for the given user id. Derivation is
// deterministic; the only randomness in the key lifecycle happens later, in the vault encryption.
func (d *Deriver) Derive(userID int64) (key []byte, address string, err error) {
	if userID < 0 || userID > math.MaxUint32 {
		return nil, "", ErrBadUserID
	}

	addr, key, _, err := d.w.Address(uint32(userID), hd.External, 0)
	if err != nil {
		return nil, "", err
	}

	return key, "0x" + hex.EncodeToString(addr), nil
}
