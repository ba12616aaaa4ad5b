// Package storage provides transactional key-value database abstractions.
package storage

import (
	"context"
	"errors"
)

// Sentinel errors returned by DB implementations.
var (
	// ErrNotFound is returned by Txn.Get when the key does not exist.
	ErrNotFound = errors.New("storage: key not found")

	// ErrConflict is returned by DB.Update when the transaction could not
	// commit due to a concurrent conflicting write. The operation did not
	// take effect and may be retried as a whole.
	ErrConflict = errors.New("storage: transaction conflict")

	// ErrStop may be returned from a subscription callback to end the
	// subscription without reporting an error.
	ErrStop = errors.New("storage: stop subscription")
)

// Txn is a single atomic view of the store. All reads and writes within one
// Txn are isolated from concurrent transactions.
type Txn interface {
	// Get retrieves the value for key. Returns ErrNotFound if absent.
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates keys with the given prefix in ascending key order.
	// The callback receives copies of the key and value. Return a non-nil
	// error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
}

// DB is the interface for transactional key-value storage.
type DB interface {
	// View runs fn in a read-only transaction.
	View(fn func(Txn) error) error
	// Update runs fn in a read-write transaction and commits it. If the
	// commit loses a race with a conflicting transaction, Update returns
	// ErrConflict and none of fn's writes are applied.
	Update(fn func(Txn) error) error
	// Subscribe invokes fn for every committed write whose key matches the
	// given prefix, until ctx is done or fn returns a non-nil error.
	// Returning ErrStop from fn ends the subscription cleanly. Subscribe
	// returns nil when ended by ctx or ErrStop.
	Subscribe(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Retry runs fn via db.Update, retrying the whole transaction up to
// attempts times when the commit fails with ErrConflict. Any other error is
// returned immediately.
func Retry(db DB, attempts int, fn func(Txn) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = db.Update(fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}
