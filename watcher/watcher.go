// Package watcher implements the blockchain watcher microservice. The watcher follows the chain head and, once a
// block is buried under enough confirmations, scans its transactions for transfers into the deposit addresses
// registered with the wallet service, crediting each match through the wallet's collaborator API.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tarrago/dwp/lib/block"
	"github.com/tarrago/dwp/lib/block/types"
	"github.com/tarrago/dwp/lib/msg"
	"github.com/tarrago/dwp/lib/store"
	"github.com/tarrago/dwp/lib/util"
)

// Prometheus counters, exposed via the metrics endpoint when the service is run with monitoring.
var (
	blocksScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dwp_blocks_scanned_total",
		Help: "Number of confirmed blocks scanned for deposits.",
	}, []string{"net"})
	depositsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dwp_deposits_credited_total",
		Help: "Number of deposits credited through the wallet service.",
	}, []string{"net"})
	creditErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dwp_credit_errors_total",
		Help: "Number of failed credit calls to the wallet service.",
	}, []string{"net"})
)

// Watcher implements a watcher service for one network.
type Watcher struct {
	dbtype  string
	db      store.DB    // cursor persistence
	bc      block.Chain // blockchain client
	be      *Backend    // wallet service client
	mb      msg.MsgBroker
	net     string
	conf    uint64 // confirmation depth
	workers int
	mu      sync.Mutex      // protects cursor and done
	cursor  uint64          // highest height with every height up to it scanned successfully
	done    map[uint64]bool // heights scanned successfully above the cursor
	stop    chan struct{}
}

// New instantiates a new watcher service.
func New(dbtype string, db store.DB, mb msg.MsgBroker, net string, bc block.Chain, be *Backend,
	confirmations uint64, workers int) *Watcher {
	return &Watcher{
		dbtype:  dbtype,
		db:      db,
		mb:      mb,
		net:     net,
		bc:      bc,
		be:      be,
		conf:    confirmations,
		workers: workers,
		done:    map[uint64]bool{},
		stop:    make(chan struct{}),
	}
}

// StopWatcher signals the head feed and workers to terminate.
func (w *Watcher) StopWatcher() {
	close(w.stop)
}

// Watch starts the head feed and the scan workers. The head feed follows the chain tip and emits, for every newly
// mined block, the height that just reached the confirmation depth. Workers consume heights concurrently so a slow
// scan never holds back delivery of the next one. When the routines end, their status is written to the returned
// channel so the calling routine can control graceful termination.
//
// On start the cursor is loaded from the database, so every confirmed height since the last fully scanned one is
// replayed. Replays are harmless: crediting is idempotent on the transaction hash.
func (w *Watcher) Watch(startBlock uint64) chan string {
	ret := make(chan string, 1)

	cursor, err := w.db.LoadCursor(w.net)
	if err != nil && !errors.Is(err, store.ErrDataNotFound) {
		log.Printf("[%s] Cannot load scan cursor from DB, err:%e", w.net, err)
		ret <- fmt.Sprintf("[%s] Done! err:%e", w.net, err)

		return ret
	}

	if cursor < startBlock {
		cursor = startBlock
	}

	w.cursor = cursor

	log.Printf("[%s] Watching at block %d with %d confirmations...", w.net, w.cursor, w.conf)

	heights := make(chan uint64, w.workers)

	// scan workers
	var wg sync.WaitGroup

	wg.Add(w.workers)

	for i := 0; i < w.workers; i++ {
		go func() {
			defer wg.Done()

			for n := range heights {
				w.scanBlock(n)
			}
		}()
	}

	// head feed
	go func() {
		defer close(heights)

		// resume as if the tip were exactly conf blocks past the cursor, probing upwards re-discovers the
		// real tip and replays every confirmed height not yet scanned
		head := w.cursor + w.conf

		for {
			select {
			case <-w.stop:
				return
			default:
			}

			time.Sleep(1 * time.Second) // limit rate at max. 1 block per second!

			var b map[string]interface{}

			if err := w.bc.GetBlock(head+1, false, &b); err != nil {
				if errors.Is(err, types.ErrNoBlock) {
					// lets wait for a new block to be mined
					select {
					case <-w.stop:
						return
					case <-time.After(time.Duration(w.bc.AvgBlock()) * time.Second):
					}

					continue
				}

				log.Printf("[%s] Watch GetBlock %d err:%e", w.net, head+1, err)

				continue
			}

			head++

			if head <= w.conf {
				continue // nothing is buried deep enough yet
			}

			confirmed := head - w.conf
			if confirmed <= w.Cursor() {
				continue
			}

			select {
			case heights <- confirmed:
			case <-w.stop:
				return
			}
		}
	}()

	// routine to wait for the workers to drain...
	go func() {
		wg.Wait()

		// persist the cursor one last time
		err := w.db.SaveCursor(w.net, w.Cursor())
		ret <- fmt.Sprintf("[%s] Done! cursor:%d err:%e", w.net, w.Cursor(), err)
	}()

	return ret
}

// Cursor returns the highest confirmed block fully scanned.
func (w *Watcher) Cursor() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.cursor
}

// markScanned records height n as fully scanned. The persisted cursor only advances across the contiguous run of
// scanned heights: workers finish out of order, and a height whose scan was abandoned pins the cursor below it, so a
// restart replays that height instead of skipping past its deposits.
func (w *Watcher) markScanned(n uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n <= w.cursor {
		return
	}

	w.done[n] = true

	moved := false
	for w.done[w.cursor+1] {
		w.cursor++
		delete(w.done, w.cursor)

		moved = true
	}

	if !moved {
		return
	}

	if err := w.db.SaveCursor(w.net, w.cursor); err != nil {
		log.Printf("[%s] Error saving scan cursor to DB, err:%e", w.net, err)
	}
}

// scanBlock scans confirmed block n for transfers into watched addresses and credits every match. The watch-set is
// fetched fresh for every block so users who signed up since the last tick are covered. Any transient error leaves
// the cursor untouched, so the block is scanned again after a restart.
func (w *Watcher) scanBlock(n uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout*time.Second)
	defer cancel()

	// get the current watch-set from the wallet service
	addrs, err := w.be.WatchAddresses(ctx)
	if err != nil {
		log.Printf("[%s] Cannot get watched addresses, block %d skipped, err:%e", w.net, n, err)

		return
	}

	blocksScanned.WithLabelValues(w.net).Inc()

	if len(addrs) == 0 {
		// no one to credit, the block is done
		w.markScanned(n)

		return
	}

	watched := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		watched[a] = struct{}{}
	}

	// get the block's data with full transaction detail
	var b map[string]interface{}

	if err = w.bc.GetBlock(n, true, &b); err != nil {
		log.Printf("[%s] scanBlock GetBlock %d err:%e", w.net, n, err)

		return
	}

	blk, err := w.bc.DecodeBlock(b)
	if err != nil {
		log.Printf("[%s] scanBlock DecodeBlock %d err:%e", w.net, n, err)

		return
	}

	log.Printf("[%s] Scanning block %d hash:%s", w.net, n, blk.Hash)

	txs, err := w.bc.DecodeTxs(b)
	if err != nil {
		log.Printf("[%s] scanBlock DecodeTxs %d err:%e", w.net, n, err)

		return
	}

	var deposits []types.Trans

	for _, tx := range txs {
		if tx.To == "" {
			continue // contract creation
		}

		to := strings.ToLower(tx.To)
		if _, ok := watched[to]; !ok {
			continue
		}

		amount, err := util.WeiToEther(tx.Value)
		if err != nil {
			log.Printf("[%s] Bad value %s in tx %s, err:%e", w.net, tx.Value, tx.Hash, err)

			continue
		}

		if amount == "0" {
			continue // zero-value transfer, nothing to credit
		}

		if err = w.be.Credit(ctx, to, amount, tx.Hash); err != nil {
			if errors.Is(err, ErrUnknownAddress) {
				// the address left the watch-set since we fetched it
				log.Printf("[%s] Address %s no longer watched, tx %s ignored", w.net, to, tx.Hash)

				continue
			}

			creditErrors.WithLabelValues(w.net).Inc()
			log.Printf("[%s] Error crediting tx %s to %s, err:%e", w.net, tx.Hash, to, err)

			return // leave the cursor so the block is replayed
		}

		depositsCredited.WithLabelValues(w.net).Inc()
		log.Printf("[%s] Credited %s ether to %s, tx %s", w.net, amount, to, tx.Hash)

		deposits = append(deposits, types.Trans{Block: tx.Block, Hash: tx.Hash, From: tx.From, To: to, Value: tx.Value})
	}

	// send events
	if len(deposits) > 0 && w.mb != nil {
		if err = w.mb.SendDeposits(w.net, deposits); err != nil {
			log.Printf("[%s] Sending %d events err:%e", w.net, len(deposits), err)
		}
	}

	w.markScanned(n)
}
