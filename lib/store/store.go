// Package store defines the interface for database implementations to the wallet and watcher microservices.
package store

import (
	"errors"
)

// AssignFunc runs inside the signup transaction once the user row exists and its monotonic id is known. It returns
// the deposit address (lower-case canonical) and the encrypted private-key blob to write back, or an error to roll
// the whole signup back.
type AssignFunc func(id int64) (address, encKey string, err error)

// DB defines required methods for wallets and watchers.
type DB interface {
	// methods for wallet service
	CreateUser(username, passHash string, assign AssignFunc) (User, error)
	UserByAddress(address string) (User, error)
	WatchAddresses() ([]string, error)
	// Credit atomically adds amount to the balance of the user owning address and appends a deposit transfer
	// record. A repeated (user, txHash) pair is a successful no-op reported with applied = false.
	Credit(address, amount, txHash string) (t Transfer, applied bool, err error)
	// methods for watcher service
	LoadCursor(net string) (uint64, error)
	SaveCursor(net string, height uint64) error
}

// Errors returned
var (
	ErrAddrNotFound = errors.New("address was not found in store")
	ErrDataNotFound = errors.New("data was not found in store")
	ErrDupUsername  = errors.New("username already taken")
)
