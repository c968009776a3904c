// Package mongo implements the store interface for MongoDB. Crediting uses a multi-document session transaction, so
// this backend requires a replica set deployment.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarrago/dwp/lib/store"
)

const dbName = "dwp"

// errAlreadyCredited aborts a credit transaction that hit the (user, txHash) unique index.
var errAlreadyCredited = errors.New("transfer already recorded")

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// mongoUser is the users collection document.
type mongoUser struct {
	ID       int64                `bson:"id"`
	Username string               `bson:"username"`
	Password string               `bson:"password"`
	Addr     string               `bson:"address"`
	EncKey   string               `bson:"enckey"`
	Balance  primitive.Decimal128 `bson:"balance"`
}

// User converts a mongoUser to store.User type.
func (u mongoUser) User() store.User {
	return store.User{ID: u.ID, Username: u.Username, Address: u.Addr, EncKey: u.EncKey, Balance: u.Balance.String()}
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	m := &Mongo{c: c}
	if err = m.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("error creating mongo indexes: %w", err)
	}

	return m, nil
}

// ensureIndexes declares the uniqueness constraints the crediting invariants rely on.
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	users := m.c.Database(dbName).Collection("users")

	_, err := users.Indexes().CreateMany(ctx, []mgo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			Keys: bson.D{{Key: "address", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"address": bson.M{"$gt": ""}}),
		},
	})
	if err != nil {
		return err
	}

	_, err = m.c.Database(dbName).Collection("transfers").Indexes().CreateOne(ctx, mgo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "tx_hash", Value: 1}},
		Options: options.Index().SetUnique(true).
			SetPartialFilterExpression(bson.M{"tx_hash": bson.M{"$exists": true}}),
	})

	return err
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// nextID returns the next value of the named monotonic counter.
func (m *Mongo) nextID(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}

	err := m.c.Database(dbName).Collection("counters").FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)

	return doc.Seq, err
}

// CreateUser inserts the user, assigns its deposit address inside the transaction and rolls everything back on
// failure, mirroring the postgres backend.
func (m *Mongo) CreateUser(username, passHash string, assign store.AssignFunc) (store.User, error) {
	var u mongoUser

	err := m.withTransaction(func(ctx mgo.SessionContext) error {
		id, err := m.nextID(ctx, "users")
		if err != nil {
			return err
		}

		zero, _ := primitive.ParseDecimal128("0")
		u = mongoUser{ID: id, Username: username, Password: passHash, Balance: zero}

		users := m.c.Database(dbName).Collection("users")
		if _, err = users.InsertOne(ctx, u); err != nil {
			if isDup(err) {
				return store.ErrDupUsername
			}
			return err
		}

		addr, encKey, err := assign(id)
		if err != nil {
			return err
		}

		u.Addr = addr
		u.EncKey = encKey
		_, err = users.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{"address": addr, "enckey": encKey}})

		return err
	})
	if err != nil {
		return store.User{}, err
	}

	return u.User(), nil
}

// UserByAddress resolves a deposit address (case-insensitively) to its user.
func (m *Mongo) UserByAddress(address string) (store.User, error) {
	var u mongoUser

	err := m.c.Database(dbName).Collection("users").
		FindOne(context.Background(), bson.M{"address": strings.ToLower(address)}).Decode(&u)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.User{}, store.ErrAddrNotFound
	} else if err != nil {
		return store.User{}, err
	}

	return u.User(), nil
}

// WatchAddresses returns every assigned deposit address, lower-case canonical.
func (m *Mongo) WatchAddresses() ([]string, error) {
	ctx := context.Background()

	docs, err := m.c.Database(dbName).Collection("users").Find(ctx,
		bson.M{"address": bson.M{"$gt": ""}},
		options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer docs.Close(ctx)

	addrs := []string{}
	for docs.Next(ctx) {
		var u mongoUser
		if err = docs.Decode(&u); err != nil {
			return nil, err
		}
		addrs = append(addrs, u.Addr)
	}

	return addrs, docs.Err()
}

// Credit adds amount to the balance of the user owning address and appends the transfer record in one session
// transaction. A duplicate (user, txHash) aborts the transaction and reports an applied = false no-op.
func (m *Mongo) Credit(address, amount, txHash string) (t store.Transfer, applied bool, err error) {
	amt, err := primitive.ParseDecimal128(amount)
	if err != nil {
		return t, false, err
	}

	err = m.withTransaction(func(ctx mgo.SessionContext) error {
		var u mongoUser

		errTx := m.c.Database(dbName).Collection("users").
			FindOne(ctx, bson.M{"address": strings.ToLower(address)}).Decode(&u)
		if errors.Is(errTx, mgo.ErrNoDocuments) {
			return store.ErrAddrNotFound
		} else if errTx != nil {
			return errTx
		}

		t = store.Transfer{UserID: u.ID, TxHash: txHash, Amount: amount, Kind: store.KindDeposit, TS: time.Now().UTC()}

		doc := bson.M{"user_id": t.UserID, "amount": amt, "kind": t.Kind, "ts": t.TS}
		if txHash != "" {
			doc["tx_hash"] = txHash
		}

		if _, errTx = m.c.Database(dbName).Collection("transfers").InsertOne(ctx, doc); errTx != nil {
			if isDup(errTx) {
				return errAlreadyCredited
			}
			return errTx
		}

		_, errTx = m.c.Database(dbName).Collection("users").
			UpdateOne(ctx, bson.M{"id": u.ID}, bson.M{"$inc": bson.M{"balance": amt}})

		return errTx
	})
	if errors.Is(err, errAlreadyCredited) {
		return store.Transfer{}, false, nil
	} else if err != nil {
		return store.Transfer{}, false, err
	}

	return t, true, nil
}

// LoadCursor returns the last successfully scanned height for the network.
func (m *Mongo) LoadCursor(net string) (uint64, error) {
	var doc struct {
		Height int64 `bson:"height"`
	}

	err := m.c.Database(dbName).Collection("cursors").
		FindOne(context.Background(), bson.M{"net": net}).Decode(&doc)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return 0, store.ErrDataNotFound
	}

	return uint64(doc.Height), err
}

// SaveCursor persists the last successfully scanned height for the network; $max keeps it monotonic.
func (m *Mongo) SaveCursor(net string, height uint64) error {
	_, err := m.c.Database(dbName).Collection("cursors").UpdateOne(context.Background(),
		bson.M{"net": net},
		bson.M{"$max": bson.M{"height": int64(height)}},
		options.Update().SetUpsert(true))

	return err
}

// withTransaction runs fn in a session transaction.
func (m *Mongo) withTransaction(fn func(mgo.SessionContext) error) error {
	sess, err := m.c.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(context.Background(), func(ctx mgo.SessionContext) (interface{}, error) {
		return nil, fn(ctx)
	})

	return err
}

// isDup reports whether err is a duplicate key error (code 11000).
func isDup(err error) bool {
	var we mgo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}

	var ce mgo.CommandError
	return errors.As(err, &ce) && ce.Code == 11000
}
