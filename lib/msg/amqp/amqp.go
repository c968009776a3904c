// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"github.com/tarrago/dwp/lib/block/types"
	"github.com/tarrago/dwp/lib/msg"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}
	r.ch = nil
	log.Printf("Connected to %s", uri)

	return &r, err
}

// Setup obtains an amqp channel and declares the message broker exchange:
//
// - dd ("deposits detected"): the watcher service publishes credited deposit events to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchange
	return channel.ExchangeDeclare("dd", "topic", true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}
		r.ch = nil
		log.Printf("amqp.Channel closed!")
	}
	return r.conn.Close()
}

// SendDeposits publishes credited deposit events to the "dd" exchange
func (r *Amqp) SendDeposits(net string, txs []types.Trans) (err error) {
	for _, t := range txs {
		// marshal to JSON
		var jsonDoc []byte
		if jsonDoc, err = json.Marshal(t); err != nil {
			return
		}
		// obtain channel if not present
		if r.ch == nil {
			if r.ch, err = r.conn.Channel(); err != nil {
				return
			}
		}
		// build body
		m := amqp.Publishing{
			Headers:     amqp.Table{"x-deposit-name": net + "." + t.Hash},
			Body:        jsonDoc,
			ContentType: "application/json",
		}
		// publish
		if err = r.ch.Publish("dd", net+".deposit."+t.Hash, false, false, m); err != nil {
			log.Printf("[%s] Error sending deposit event to message broker %e", net, err)
		}
	}
	return
}

// GetDeposits consumes deposit events from the "dd" exchange pushing them to the returned channel. The Mutex pointer
// is provided to ensure the consumed message has been fully dealt with by the management function, so the message
// consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetDeposits(net string, mut *sync.Mutex) (<-chan types.Trans, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}
	// declare queue
	if _, err = r.ch.QueueDeclare("dd"+net, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	// bind queue to exchange
	if err = r.ch.QueueBind("dd"+net, net+".*.*", "dd", false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving events
	msgs, errCons := r.ch.Consume("dd"+net, "wallet-"+net, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	eves := make(chan types.Trans)
	errs := make(chan error)
	// start routine to consume messages from broker
	go func() {
		for m := range msgs {
			var tx *types.Trans = new(types.Trans)
			err := json.Unmarshal(m.Body, tx)
			if err != nil {
				errs <- err
				continue
			}
			eves <- *tx
			mut.Lock() // wait for wallet to finish processing the event
			m.Ack(false)
		}
	}()
	return eves, errs, nil
}
