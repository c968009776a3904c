// Package postgres implements the store interface for PostgreSQL, the reference backend of the platform. The schema
// is bootstrapped externally (see cmd/schema.sql).
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/tarrago/dwp/lib/store"
)

// uniqueViolation is the postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// CreateUser inserts the user with placeholder key material, runs assign with the generated id and writes the
// assigned address and encrypted key back, all in one transaction. Any failure rolls the signup back so no user row
// is ever left without its deposit address.
func (p *Postgres) CreateUser(username, passHash string, assign store.AssignFunc) (u store.User, err error) {
	tx, err := p.db.Begin()
	if err != nil {
		return u, fmt.Errorf("could not begin signup transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRow(
		`INSERT INTO users (username, password, deposit_address, encrypted_key)
		 VALUES ($1, $2, '', '') RETURNING id`, username, passHash).Scan(&u.ID)
	if err != nil {
		if isUnique(err) {
			err = store.ErrDupUsername
		}
		return u, err
	}

	addr, encKey, err := assign(u.ID)
	if err != nil {
		return u, err
	}

	if _, err = tx.Exec(
		`UPDATE users SET deposit_address = $1, encrypted_key = $2 WHERE id = $3`, addr, encKey, u.ID); err != nil {
		return u, fmt.Errorf("could not assign deposit address: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return u, err
	}

	u.Username = username
	u.Address = addr
	u.EncKey = encKey
	u.Balance = "0"

	return u, nil
}

// UserByAddress resolves a deposit address (case-insensitively) to its user.
func (p *Postgres) UserByAddress(address string) (u store.User, err error) {
	err = p.db.QueryRow(
		`SELECT id, username, deposit_address, encrypted_key, balance::text
		 FROM users WHERE deposit_address = lower($1)`, address).
		Scan(&u.ID, &u.Username, &u.Address, &u.EncKey, &u.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		err = store.ErrAddrNotFound
	}

	return u, err
}

// WatchAddresses returns every assigned deposit address, lower-case canonical.
func (p *Postgres) WatchAddresses() ([]string, error) {
	rows, err := p.db.Query(`SELECT deposit_address FROM users WHERE deposit_address <> '' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	addrs := []string{}
	for rows.Next() {
		var a string
		if err = rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}

	return addrs, rows.Err()
}

// Credit adds amount to the balance of the user owning address and appends the transfer record, atomically. The
// transfer insert goes first: if the (user, txHash) pair was already recorded the whole unit rolls back and the call
// reports an applied = false no-op, which makes block re-deliveries harmless.
func (p *Postgres) Credit(address, amount, txHash string) (t store.Transfer, applied bool, err error) {
	tx, err := p.db.Begin()
	if err != nil {
		return t, false, fmt.Errorf("could not begin credit transaction: %w", err)
	}

	defer func() {
		if err != nil || !applied {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRow(`SELECT id FROM users WHERE deposit_address = lower($1)`, address).Scan(&t.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return t, false, store.ErrAddrNotFound
	} else if err != nil {
		return t, false, err
	}

	var hash sql.NullString
	if txHash != "" {
		hash = sql.NullString{String: txHash, Valid: true}
	}

	res, err := tx.Exec(
		`INSERT INTO transfers (user_id, tx_hash, amount, kind) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, tx_hash) WHERE tx_hash IS NOT NULL DO NOTHING`,
		t.UserID, hash, amount, store.KindDeposit)
	if err != nil {
		return t, false, err
	}

	if n, errRows := res.RowsAffected(); errRows != nil {
		return t, false, errRows
	} else if n == 0 {
		// already credited for this source transaction
		return t, false, nil
	}

	if _, err = tx.Exec(`UPDATE users SET balance = balance + $1::numeric WHERE id = $2`, amount, t.UserID); err != nil {
		return t, false, err
	}

	if err = tx.Commit(); err != nil {
		return t, false, err
	}

	t.TxHash = txHash
	t.Amount = amount
	t.Kind = store.KindDeposit

	return t, true, nil
}

// LoadCursor returns the last successfully scanned height for the network.
func (p *Postgres) LoadCursor(net string) (uint64, error) {
	var h uint64

	err := p.db.QueryRow(`SELECT height FROM scan_cursors WHERE net = $1`, net).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrDataNotFound
	}

	return h, err
}

// SaveCursor persists the last successfully scanned height for the network. The cursor never moves backwards, so
// out-of-order saves from concurrent scan workers are safe.
func (p *Postgres) SaveCursor(net string, height uint64) error {
	_, err := p.db.Exec(
		`INSERT INTO scan_cursors (net, height) VALUES ($1, $2)
		 ON CONFLICT (net) DO UPDATE SET height = GREATEST(scan_cursors.height, EXCLUDED.height)`, net, height)

	return err
}

// isUnique reports whether err is a postgres unique constraint violation.
func isUnique(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
