// Package util contains helper functions used around the code.
package util

import (
	"errors"
	"math/big"
	"strings"
)

// ErrBadWei is returned for values that are not a hex-encoded wei quantity.
var ErrBadWei = errors.New("value is not a hex wei quantity")

var weiPerEther = big.NewInt(1e18)

// WeiToEther converts a JSON-RPC hex wei quantity (ie. "0x16345785d8a0000") to a decimal ether string ("0.1"),
// trimming insignificant zeroes. The ledger accumulates balances in ether units.
func WeiToEther(hexWei string) (string, error) {
	s := strings.TrimPrefix(hexWei, "0x")
	if s == "" {
		return "", ErrBadWei
	}

	wei, ok := new(big.Int).SetString(s, 16)
	if !ok || wei.Sign() < 0 {
		return "", ErrBadWei
	}

	eth := new(big.Rat).SetFrac(wei, weiPerEther)

	out := eth.FloatString(18)
	out = strings.TrimRight(out, "0")
	out = strings.TrimSuffix(out, ".")
	if out == "" {
		out = "0"
	}

	return out, nil
}
