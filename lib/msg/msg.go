// Package msg defines the interface for different message brokers.
//
// The watcher publishes an event for every credited deposit; wallet instances consume them to give clients real-time
// notification of incoming funds. The broker is optional plumbing: crediting itself never depends on it.
package msg

import (
	"sync"

	"github.com/tarrago/dwp/lib/block/types"
)

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// method for watcher service
	SendDeposits(net string, t []types.Trans) error

	// method for wallet service
	GetDeposits(net string, mut *sync.Mutex) (<-chan types.Trans, <-chan error, error)
}
