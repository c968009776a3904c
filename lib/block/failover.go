package block

import (
	"errors"
	"log"
	"math/big"
	"sort"
	"sync"

	"github.com/tarrago/dwp/lib/block/types"
	"github.com/tarrago/dwp/lib/config"
)

// Pool is a Chain backed by several providers. Calls go to the preferred provider; on a transport error the pool
// rotates to the next one and retries there, so a flaky primary never stalls the watcher. types.ErrNoBlock is not a
// failure, it just means the height is not mined yet.
type Pool struct {
	mu    sync.Mutex
	cur   int
	chain []Chain // ordered by preference
}

// NewPool orders the providers by ascending priority, weighted within the same priority (a node with weight 3 is
// preferred over a sibling with weight 1), and returns the pool.
func NewPool(chains []Chain, provs []config.ProviderConfig) *Pool {
	idx := make([]int, len(chains))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := provs[idx[a]], provs[idx[b]]
		if pa.Priority != pb.Priority {
			return pa.Priority < pb.Priority
		}
		return pa.Weight > pb.Weight
	})

	ordered := make([]Chain, len(chains))
	for i, j := range idx {
		ordered[i] = chains[j]
	}

	return &Pool{chain: ordered}
}

// current returns the preferred healthy provider index.
func (p *Pool) current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

// demote rotates away from provider i after a transport error. Another goroutine may have rotated already; only the
// first demotion of i takes effect.
func (p *Pool) demote(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == i {
		p.cur = (p.cur + 1) % len(p.chain)
		log.Printf("block: provider %d failed, failing over to provider %d", i, p.cur)
	}
}

// do runs f against the current provider, rotating through the pool until one succeeds or all have failed.
func (p *Pool) do(f func(c Chain) error) error {
	var err error

	for try := 0; try < len(p.chain); try++ {
		i := p.current()
		if err = f(p.chain[i]); err == nil || errors.Is(err, types.ErrNoBlock) {
			return err
		}
		p.demote(i)
	}

	return err
}

// MaxBlocks returns the uncle window of the chain.
func (p *Pool) MaxBlocks() int {
	return p.chain[p.current()].MaxBlocks()
}

// AvgBlock returns the average time to mine a block in seconds.
func (p *Pool) AvgBlock() int {
	return p.chain[p.current()].AvgBlock()
}

// Close ends all provider connections.
func (p *Pool) Close() {
	for _, c := range p.chain {
		c.Close()
	}
}

// Balance loads the ether balance of the address, failing over across providers.
func (p *Pool) Balance(account string, bal *big.Int) error {
	return p.do(func(c Chain) error {
		return c.Balance(account, bal)
	})
}

// GetBlock fetches the block at the given height, failing over across providers.
func (p *Pool) GetBlock(block uint64, full bool, response interface{}) error {
	return p.do(func(c Chain) error {
		return c.GetBlock(block, full, response)
	})
}

// DecodeBlock decodes block data fetched with GetBlock.
func (p *Pool) DecodeBlock(b interface{}) (types.Block, error) {
	return p.chain[p.current()].DecodeBlock(b)
}

// DecodeTxs decodes the transactions of block data fetched with GetBlock.
func (p *Pool) DecodeTxs(t interface{}) ([]types.Trans, error) {
	return p.chain[p.current()].DecodeTxs(t)
}
