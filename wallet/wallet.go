// Package wallet implements the user registry microservice.
//
// This microservice implements a RESTful API for user signup with deterministic deposit-address provisioning, for the
// watcher's collaborator contract (watch-set reads and balance crediting) and for on-chain balance queries.
package wallet

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/tarrago/dwp/lib/block"
	"github.com/tarrago/dwp/lib/hdkey"
	"github.com/tarrago/dwp/lib/msg"
	"github.com/tarrago/dwp/lib/store"
	"github.com/tarrago/dwp/lib/store/db"
	"github.com/tarrago/dwp/lib/vault"
)

// Wallet contains the data necessary to deliver the service
type Wallet struct {
	dbtype string
	db     store.DB      // db connection
	net    string        // blockchain name
	bc     block.Chain   // blockchain client
	hd     *hdkey.Deriver
	vault  *vault.Vault
	mb     msg.MsgBroker
	s      *http.Server  // http server
	ss     *http.Server  // https server
	sc     chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Wallet service
func New(dbtype string, dbConn store.DB, mb msg.MsgBroker, net string, bc block.Chain, hd *hdkey.Deriver, v *vault.Vault) *Wallet {
	return &Wallet{
		dbtype: dbtype,
		db:     dbConn,
		mb:     mb,
		net:    net,
		bc:     bc,
		hd:     hd,
		vault:  v,
	}
}

// Stop shuts down the http servers implementing the RESTful API and closes gracefully the connections to message
// broker and database.
func (w *Wallet) Stop() {
	var err error
	// shutdown http server
	if w.s != nil {
		if err = w.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}
	if w.ss != nil {
		if err = w.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}
	close(w.sc) // close server channels to indicate shutdowns have finished
	// close message broker
	if w.mb != nil {
		if err = w.mb.Close(); err != nil {
			log.Printf("Error closing message broker:%e", err)
		}
	}
	// close database
	if w.db != nil {
		err = db.Close(w.dbtype, w.db)
		log.Printf("Disconnecting %v database, err:%e\n", w.dbtype, err)
	}
}

// ManageEvents starts go routines to consume the message broker queue for deposit events sent by the watcher service.
// Two channels are opened, one for deposit events, and one for errors. Events are just logged so clients can read
// them; the ledger was already updated by the credit call that produced the event.
func (w *Wallet) ManageEvents() error {
	if w.mb == nil {
		return nil
	}

	var mut *sync.Mutex = new(sync.Mutex)
	mut.Lock()
	eveCh, errCh, err := w.mb.GetDeposits(w.net, mut)
	if err != nil {
		return err
	}

	// launch event channel reader
	go func() {
		log.Printf("[%s] Start listening to deposit event channel", w.net)
		for eve := range eveCh {
			log.Printf("[%s] Deposit credited to %s: %s wei, tx %s", w.net, eve.To, eve.Value, eve.Hash)
			mut.Unlock()
		}
		log.Printf("[%s] Stop listening to deposit event channel", w.net)
	}()

	// launch error channel reader
	go func() {
		log.Printf("[%s] Start listening to err channel", w.net)
		for e := range errCh {
			log.Printf("[%s] Received error %+v", w.net, e)
		}
		log.Printf("[%s] Stop listening to err channel", w.net)
	}()

	return nil
}
