// Package block defines the interface required for all blockchain or network connections.
package block

import (
	"errors"
	"math/big"

	"github.com/tarrago/dwp/lib/block/ethereum"
	"github.com/tarrago/dwp/lib/block/types"
	"github.com/tarrago/dwp/lib/config"
)

// Chain is an interface that contains the required methods. It covers the read path only: the deposit pipeline never
// signs or submits transactions.
type Chain interface {
	// member-type methods
	MaxBlocks() int // number of blocks that are controlled for orphans (uncles)
	AvgBlock() int  // average block mining rate in seconds
	// methods
	Close()
	Balance(account string, bal *big.Int) error
	GetBlock(block uint64, full bool, response interface{}) error
	DecodeBlock(b interface{}) (types.Block, error)
	DecodeTxs(t interface{}) ([]types.Trans, error)
}

// ErrNoProviders is returned when a chain is configured without any node.
var ErrNoProviders = errors.New("no blockchain providers configured")

// Init connects a client to every configured provider and returns them wrapped in a failover Pool. maxBlocks applies
// to all providers of the chain.
func Init(providers []config.ProviderConfig, maxBlocks int) (Chain, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	chains := make([]Chain, 0, len(providers))
	for _, p := range providers {
		c, err := ethereum.Init(p.Node, p.Secret, maxBlocks)
		if err != nil {
			return nil, err
		}
		chains = append(chains, c)
	}

	return NewPool(chains, providers), nil
}

// End closes gracefully the blockchain clients opened.
func End(c Chain) {
	if c != nil {
		c.Close()
	}
}
