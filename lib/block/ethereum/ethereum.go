// Implements interface for ethereum networks
package ethereum

import (
	"errors"
	"math/big"

	"github.com/tarancss/ethcli"

	"github.com/tarrago/dwp/lib/block/types"
)

// Ethereum implements a connection to an ethereum-type chain.
type Ethereum struct {
	c  *ethcli.EthCli
	mb int
}

// Init returns a connection to an ethereum node, using secret if necessary for authentication. maxBlocks indicates
// how many blocks will be taken into account for uncle management.
func Init(node, secret string, maxBlocks int) (*Ethereum, error) {
	var err error

	c := ethcli.Init(node, secret)
	if c == nil {
		err = errors.New("cannot connect to ethereum blockchain in " + node)
	}

	return &Ethereum{c: c, mb: maxBlocks}, err
}

// MaxBlocks returns how many blocks will be taken into account for uncle management.
func (e *Ethereum) MaxBlocks() int {
	return e.mb
}

// AvgBlock returns the average time to mine a block in seconds.
func (e *Ethereum) AvgBlock() int {
	return 12
}

// Close ends a connection
func (e *Ethereum) Close() {
	e.c.End()
}

// Balance loads the ether balance of the address onto the provided big.Int pointer, or error otherwise.
func (e *Ethereum) Balance(address string, bal *big.Int) error {
	eth, _, err := e.c.GetBalance(address, "")
	if err != nil {
		return err
	}

	bal.Set(eth)

	return nil
}

// GetBlock returns in response the block number requested. If full, it provides all the details of the transactions.
func (e *Ethereum) GetBlock(block uint64, full bool, response interface{}) (err error) {
	if err = e.c.GetBlockByNumber(block, full, response.(*map[string]interface{})); err == ethcli.ErrNoBlock {
		err = types.ErrNoBlock
	}
	return
}

// DecodeBlock returns a struct with the values from the block data. It is used after a call to GetBlock.
func (e *Ethereum) DecodeBlock(t interface{}) (b types.Block, err error) {
	m, ok := t.(map[string]interface{})
	if !ok {
		err = types.ErrBlockDecode
		return
	}
	if b.Hash, ok = m["hash"].(string); !ok {
		err = types.ErrNoHash
		return
	}
	if b.PHash, ok = m["parentHash"].(string); !ok {
		err = types.ErrNoParentHash
		return
	}
	if b.Number, ok = m["number"].(string); !ok {
		err = types.ErrNoBlockNumber
		return
	}
	if b.TS, ok = m["timestamp"].(string); !ok {
		err = types.ErrNoTS
		return
	}
	return
}

// DecodeTxs returns a slice of value transfers from the block data. It is used after a call to GetBlock. Contract
// creations are returned with an empty To so callers can skip them; token-call internals are not parsed, only the
// carried ether value matters to the deposit pipeline.
func (e *Ethereum) DecodeTxs(t interface{}) (txs []types.Trans, err error) {
	m, ok := t.(map[string]interface{})
	if !ok {
		err = types.ErrNoTrx
		return
	}

	txList, ok := m["transactions"].([]interface{})
	if !ok {
		err = types.ErrNoTrx
		return
	}

	if len(txList) == 0 {
		return
	}

	txs = make([]types.Trans, len(txList))
	switch txList[0].(type) {
	case string:
		for i := 0; i < len(txList); i++ {
			txs[i].Hash = txList[i].(string) // only transaction hashes
		}
	case map[string]interface{}:
		// full data of the transactions
		for i := 0; i < len(txList); i++ {
			txObj := txList[i].(map[string]interface{})
			if txs[i].Block, ok = txObj["blockNumber"].(string); !ok {
				err = types.ErrNoBlockNumber
				return
			}
			if txs[i].Hash, ok = txObj["hash"].(string); !ok {
				err = types.ErrNoTrxHash
				return
			}
			if txs[i].To, ok = txObj["to"].(string); !ok {
				continue // contract creation, no destination to credit
			}
			if txs[i].Value, ok = txObj["value"].(string); !ok {
				err = types.ErrNoTrxValue
				return
			}
			if txs[i].From, ok = txObj["from"].(string); !ok {
				err = types.ErrNoTrxFrom
				return
			}
		}
	default:
		err = types.ErrNoTrx
	}
	return
}
