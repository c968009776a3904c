// Package types common blockchain types.
package types

import (
	"errors"
)

// Trans contains the transaction fields the deposit pipeline cares about: a single value transfer from `From` to
// `To`. Contract creations carry an empty `To` and are skipped by callers.
type Trans struct {
	Block string `json:"block"`
	Hash  string `json:"hash"`
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

// Block contains a simplified list of block fields.
type Block struct {
	Hash   string  `json:"hash"`
	PHash  string  `json:"parentHash"`
	Number string  `json:"number"`
	TS     string  `json:"timestamp"`
	Tx     []Trans `json:"transactions"`
}

// Error codes.
var (
	ErrBlockDecode   = errors.New("unable to decode block data into Block type")
	ErrNoBlockNumber = errors.New("block data does not contain a block number")
	ErrNoTS          = errors.New("block data does not contain a timestamp")
	ErrNoHash        = errors.New("block data does not contain a hash")
	ErrNoParentHash  = errors.New("block data does not contain a parenthash")
	ErrNoBlock       = errors.New("block not available yet")
	ErrNoTrx         = errors.New("transaction not found")
	ErrNoTrxHash     = errors.New("malformed tx data in block, field 'hash' missing")
	ErrNoTrxValue    = errors.New("malformed tx data in block, field 'value' missing")
	ErrNoTrxFrom     = errors.New("malformed tx data in block, field 'from' missing")
)
