// Package db implements the opening and graceful closing of database connections.
package db

import (
	"errors"

	"github.com/tarrago/dwp/lib/store"
	"github.com/tarrago/dwp/lib/store/mongo"
	"github.com/tarrago/dwp/lib/store/postgres"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
)

// ErrUnknownDBType is returned for database types without an implementation.
var ErrUnknownDBType = errors.New("unknown database type")

// New returns a new database connection according to the options (database type).
func New(options, connection string) (store.DB, error) {
	switch options {
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	}

	return nil, ErrUnknownDBType
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	switch options {
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	}

	return nil
}
