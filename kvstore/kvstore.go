//go:generate mockgen -destination mock_kvstore/mock_kvstore.go github.com/anyproto/any-snapshot/kvstore Table
package kvstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("key not found")
	// ErrConflict is returned when the engine detected a concurrent transaction
	// touching the same keys. The whole transaction may be retried.
	ErrConflict    = errors.New("storage conflict")
	ErrTxFinished  = errors.New("transaction already finished")
	ErrStoreClosed = errors.New("store is closed")
)

// Store is a transactional key-value engine holding any number of named tables.
type Store interface {
	// OpenTable returns the table with the given name, creating it if needed.
	OpenTable(ctx context.Context, name string) (Table, error)
	// WriteTx starts a read-write transaction spanning all tables of the store.
	WriteTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a read-write transaction. Table operations join it when called with Context().
type Tx interface {
	Context() context.Context
	Commit() error
	Rollback() error
}

type Iterator func(key, value []byte) (next bool, err error)

// Table is a single ordered key-value table.
// Every operation joins the transaction carried by ctx; without one it is committed on its own.
type Table interface {
	Name() string
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key []byte) (value []byte, err error)
	// Insert sets the value, replacing any previous one.
	Insert(ctx context.Context, key, value []byte) error
	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key []byte) error
	// Iterate walks the table in key order.
	Iterate(ctx context.Context, iter Iterator) error
}

// IsRetryable reports whether the transaction that produced err may be retried as a whole.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Lookup is like Get but reports absence with ok instead of an error.
func Lookup(ctx context.Context, t Table, key []byte) (value []byte, ok bool, err error) {
	value, err = t.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// WithTx runs f inside a new write transaction, committing when f succeeds and rolling back otherwise.
func WithTx(ctx context.Context, s Store, f func(txCtx context.Context) error) (err error) {
	tx, err := s.WriteTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to create write tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	return f(tx.Context())
}

type KeyValue struct {
	Key   []byte
	Value []byte
}

// Collect returns every pair of the table in key order.
func Collect(ctx context.Context, t Table) (kvs []KeyValue, err error) {
	err = t.Iterate(ctx, func(key, value []byte) (bool, error) {
		kvs = append(kvs, KeyValue{
			Key:   append([]byte{}, key...),
			Value: append([]byte{}, value...),
		})
		return true, nil
	})
	return
}
