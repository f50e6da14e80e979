// Package memkv is an in-memory kvstore engine with optimistic concurrency control.
//
// Transactions buffer their writes and remember the version of every key they read
// (and of every table they scanned). Every read and the commit validate those versions
// against the committed state and fail with kvstore.ErrConflict if another transaction
// changed them in between. A running transaction therefore never observes a mix of
// states, and committed transactions are serializable.
package memkv

import (
	"context"
	"sync"

	"github.com/huandu/skiplist"
	"go.uber.org/atomic"

	"github.com/anyproto/any-snapshot/kvstore"
)

type txKey struct{}

type entry struct {
	value   []byte
	deleted bool
	version uint64
}

type table struct {
	rows    *skiplist.SkipList
	version uint64
}

func newTable() *table {
	return &table{rows: skiplist.New(skiplist.Bytes)}
}

func (t *table) versionOf(key []byte) (e *entry, version uint64) {
	if el := t.rows.Get(key); el != nil {
		e = el.Value.(*entry)
		return e, e.version
	}
	return nil, 0
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table
	seq    *atomic.Uint64
	closed bool
}

func New() *Store {
	return &Store{
		tables: make(map[string]*table),
		seq:    atomic.NewUint64(0),
	}
}

func (s *Store) OpenTable(ctx context.Context, name string) (kvstore.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, kvstore.ErrStoreClosed
	}
	if _, ok := s.tables[name]; !ok {
		s.tables[name] = newTable()
	}
	return &tableHandle{store: s, name: name}, nil
}

func (s *Store) WriteTx(ctx context.Context) (kvstore.Tx, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, kvstore.ErrStoreClosed
	}
	tx := &writeTx{
		store:  s,
		reads:  make(map[string]map[string]uint64),
		scans:  make(map[string]uint64),
		writes: make(map[string]*skiplist.SkipList),
	}
	tx.ctx = context.WithValue(ctx, txKey{}, tx)
	return tx, nil
}

// CommitSeq returns the sequence number of the last committed write transaction.
func (s *Store) CommitSeq() uint64 {
	return s.seq.Load()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type writeTx struct {
	store  *Store
	ctx    context.Context
	reads  map[string]map[string]uint64
	scans  map[string]uint64
	writes map[string]*skiplist.SkipList
	done   bool
}

func (tx *writeTx) Context() context.Context {
	return tx.ctx
}

func (tx *writeTx) Rollback() error {
	if tx.done {
		return kvstore.ErrTxFinished
	}
	tx.done = true
	return nil
}

func (tx *writeTx) Commit() error {
	if tx.done {
		return kvstore.ErrTxFinished
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kvstore.ErrStoreClosed
	}
	if !tx.validate() {
		return kvstore.ErrConflict
	}
	if len(tx.writes) == 0 {
		return nil
	}
	seq := s.seq.Inc()
	for name, pending := range tx.writes {
		t := s.tables[name]
		for el := pending.Front(); el != nil; el = el.Next() {
			w := el.Value.(*entry)
			t.rows.Set(el.Key(), &entry{value: w.value, deleted: w.deleted, version: seq})
		}
		t.version = seq
	}
	return nil
}

// validate must be called with the store lock held.
func (tx *writeTx) validate() bool {
	for name, keys := range tx.reads {
		t := tx.store.tables[name]
		for key, seen := range keys {
			if _, current := t.versionOf([]byte(key)); current != seen {
				return false
			}
		}
	}
	for name, seen := range tx.scans {
		if tx.store.tables[name].version != seen {
			return false
		}
	}
	return true
}

func (tx *writeTx) pending(name string, key []byte) *entry {
	rows, ok := tx.writes[name]
	if !ok {
		return nil
	}
	if el := rows.Get(key); el != nil {
		return el.Value.(*entry)
	}
	return nil
}

func (tx *writeTx) get(name string, key []byte) ([]byte, error) {
	if tx.done {
		return nil, kvstore.ErrTxFinished
	}
	if w := tx.pending(name, key); w != nil {
		if w.deleted {
			return nil, kvstore.ErrNotFound
		}
		return clone(w.value), nil
	}

	tx.store.mu.Lock()
	if !tx.validate() {
		tx.store.mu.Unlock()
		return nil, kvstore.ErrConflict
	}
	e, version := tx.store.tables[name].versionOf(key)
	var value []byte
	if e != nil && !e.deleted {
		value = clone(e.value)
	}
	tx.store.mu.Unlock()

	keys, ok := tx.reads[name]
	if !ok {
		keys = make(map[string]uint64)
		tx.reads[name] = keys
	}
	// reads are validated, so a later observation of the key carries the same version
	if _, seen := keys[string(key)]; !seen {
		keys[string(key)] = version
	}
	if e == nil || e.deleted {
		return nil, kvstore.ErrNotFound
	}
	return value, nil
}

func (tx *writeTx) put(name string, key []byte, w *entry) error {
	if tx.done {
		return kvstore.ErrTxFinished
	}
	rows, ok := tx.writes[name]
	if !ok {
		rows = skiplist.New(skiplist.Bytes)
		tx.writes[name] = rows
	}
	rows.Set(clone(key), w)
	return nil
}

func (tx *writeTx) iterate(name string, iter kvstore.Iterator) error {
	if tx.done {
		return kvstore.ErrTxFinished
	}
	merged := skiplist.New(skiplist.Bytes)

	tx.store.mu.Lock()
	if !tx.validate() {
		tx.store.mu.Unlock()
		return kvstore.ErrConflict
	}
	t := tx.store.tables[name]
	for el := t.rows.Front(); el != nil; el = el.Next() {
		if e := el.Value.(*entry); !e.deleted {
			merged.Set(el.Key(), clone(e.value))
		}
	}
	if _, seen := tx.scans[name]; !seen {
		tx.scans[name] = t.version
	}
	tx.store.mu.Unlock()

	if pending, ok := tx.writes[name]; ok {
		for el := pending.Front(); el != nil; el = el.Next() {
			if w := el.Value.(*entry); w.deleted {
				merged.Remove(el.Key())
			} else {
				merged.Set(el.Key(), clone(w.value))
			}
		}
	}
	for el := merged.Front(); el != nil; el = el.Next() {
		next, err := iter(el.Key().([]byte), el.Value.([]byte))
		if err != nil {
			return err
		}
		if !next {
			break
		}
	}
	return nil
}

type tableHandle struct {
	store *Store
	name  string
}

func (h *tableHandle) Name() string {
	return h.name
}

// withTx runs f in the transaction carried by ctx or, when there is none, in an implicit one.
func (h *tableHandle) withTx(ctx context.Context, f func(tx *writeTx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*writeTx); ok && tx.store == h.store {
		return f(tx)
	}
	tx, err := h.store.WriteTx(ctx)
	if err != nil {
		return err
	}
	if err = f(tx.(*writeTx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (h *tableHandle) Get(ctx context.Context, key []byte) (value []byte, err error) {
	err = h.withTx(ctx, func(tx *writeTx) (err error) {
		value, err = tx.get(h.name, key)
		return
	})
	return
}

func (h *tableHandle) Insert(ctx context.Context, key, value []byte) error {
	return h.withTx(ctx, func(tx *writeTx) error {
		return tx.put(h.name, key, &entry{value: clone(value)})
	})
}

func (h *tableHandle) Remove(ctx context.Context, key []byte) error {
	return h.withTx(ctx, func(tx *writeTx) error {
		return tx.put(h.name, key, &entry{deleted: true})
	})
}

func (h *tableHandle) Iterate(ctx context.Context, iter kvstore.Iterator) error {
	return h.withTx(ctx, func(tx *writeTx) error {
		return tx.iterate(h.name, iter)
	})
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append(make([]byte, 0, len(b)), b...)
}
