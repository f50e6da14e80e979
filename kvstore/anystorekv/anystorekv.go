// Package anystorekv keeps kvstore tables in any-store collections.
package anystorekv

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	anystore "github.com/anyproto/any-store"
	"github.com/anyproto/any-store/anyenc"

	"github.com/anyproto/any-snapshot/kvstore"
)

/**

any-store document structure:
	id (string) - "k" + hex encoded key, hex keeps the byte order of keys and the prefix keeps an empty key addressable
	v (bytes) - value
*/

const (
	idKey    = "id"
	valueKey = "v"

	keyPrefix = "k"
)

var (
	parserPool = &anyenc.ParserPool{}
	arenaPool  = &anyenc.ArenaPool{}
)

type store struct {
	db anystore.DB
}

// Open opens (or creates) the database file at path.
func Open(ctx context.Context, path string) (kvstore.Store, error) {
	db, err := anystore.Open(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("open any-store %s: %w", path, err)
	}
	return New(db), nil
}

// New wraps an already opened db. Close closes the db.
func New(db anystore.DB) kvstore.Store {
	return &store{db: db}
}

func (s *store) OpenTable(ctx context.Context, name string) (kvstore.Table, error) {
	coll, err := s.db.Collection(ctx, name)
	if err != nil {
		return nil, convertErr(err)
	}
	return &table{name: name, coll: coll}, nil
}

func (s *store) WriteTx(ctx context.Context) (kvstore.Tx, error) {
	tx, err := s.db.WriteTx(ctx)
	if err != nil {
		return nil, convertErr(err)
	}
	return &writeTx{tx: tx}, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

type writeTx struct {
	tx anystore.WriteTx
}

func (t *writeTx) Context() context.Context {
	return t.tx.Context()
}

func (t *writeTx) Commit() error {
	return convertErr(t.tx.Commit())
}

func (t *writeTx) Rollback() error {
	return convertErr(t.tx.Rollback())
}

type table struct {
	name string
	coll anystore.Collection
}

func (t *table) Name() string {
	return t.name
}

func (t *table) Get(ctx context.Context, key []byte) ([]byte, error) {
	parser := parserPool.Get()
	defer parserPool.Put(parser)
	doc, err := t.coll.FindIdWithParser(ctx, parser, encodeKey(key))
	if err != nil {
		return nil, convertErr(err)
	}
	// the parser owns the doc buffer
	return append([]byte{}, doc.Value().GetBytes(valueKey)...), nil
}

func (t *table) Insert(ctx context.Context, key, value []byte) error {
	arena := arenaPool.Get()
	defer arenaPool.Put(arena)
	doc := arena.NewObject()
	doc.Set(idKey, arena.NewString(encodeKey(key)))
	doc.Set(valueKey, arena.NewBinary(value))
	return convertErr(t.coll.UpsertOne(ctx, doc))
}

func (t *table) Remove(ctx context.Context, key []byte) error {
	err := t.coll.DeleteId(ctx, encodeKey(key))
	if errors.Is(err, anystore.ErrDocNotFound) {
		return nil
	}
	return convertErr(err)
}

func (t *table) Iterate(ctx context.Context, iterFunc kvstore.Iterator) (err error) {
	iter, err := t.coll.Find(nil).Sort(idKey).Iter(ctx)
	if err != nil {
		return convertErr(err)
	}
	defer func() {
		if closeErr := iter.Close(); err == nil {
			err = convertErr(closeErr)
		}
	}()
	var doc anystore.Doc
	for iter.Next() {
		if doc, err = iter.Doc(); err != nil {
			return convertErr(err)
		}
		key, err := decodeKey(doc.Value().GetString(idKey))
		if err != nil {
			return err
		}
		next, err := iterFunc(key, doc.Value().GetBytes(valueKey))
		if err != nil {
			return err
		}
		if !next {
			break
		}
	}
	return nil
}

func encodeKey(key []byte) string {
	return keyPrefix + hex.EncodeToString(key)
}

func decodeKey(id string) ([]byte, error) {
	if !strings.HasPrefix(id, keyPrefix) {
		return nil, fmt.Errorf("malformed document id %q", id)
	}
	key, err := hex.DecodeString(id[len(keyPrefix):])
	if err != nil {
		return nil, fmt.Errorf("malformed document id %q: %w", id, err)
	}
	return key, nil
}

func convertErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, anystore.ErrDocNotFound):
		return kvstore.ErrNotFound
	case isBusy(err):
		return fmt.Errorf("%w: %w", kvstore.ErrConflict, err)
	}
	return err
}

// sqlite reports lock contention between connections as busy/locked
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
