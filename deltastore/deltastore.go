// Package deltastore keeps the forward and backward change sets of versions
// and applies them to a data table.
package deltastore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/anyproto/any-snapshot/app/logger"
	"github.com/anyproto/any-snapshot/delta"
	"github.com/anyproto/any-snapshot/kvstore"
	"github.com/anyproto/any-snapshot/versionforest"
)

var log = logger.NewNamed("snapshot.deltas")

var (
	ErrDeltaNotFound           = errors.New("delta record not found")
	ErrCorruptRecord           = errors.New("corrupt delta record")
	ErrDeltaApplyInconsistency = errors.New("data table does not match the delta record")
)

type Store struct {
	table kvstore.Table
}

func New(table kvstore.Table) *Store {
	return &Store{table: table}
}

func (s *Store) Table() kvstore.Table {
	return s.table
}

// Put replaces the record of v.
func (s *Store) Put(ctx context.Context, v versionforest.VersionId, forward, backward []delta.Delta) error {
	if len(forward) != len(backward) {
		return fmt.Errorf("%w: %s: %d forward and %d backward deltas", ErrCorruptRecord, v, len(forward), len(backward))
	}
	rec := Record{Forward: forward, Backward: backward}
	if err := s.table.Insert(ctx, recordKey(v), rec.marshal()); err != nil {
		return err
	}
	log.DebugCtx(ctx, "record stored", zap.Stringer("id", v), zap.Int("deltas", len(forward)))
	return nil
}

// Extend appends edits captured on top of the state of v.
// backward must be in replay order, as returned by Capture.
func (s *Store) Extend(ctx context.Context, v versionforest.VersionId, forward, backward []delta.Delta) error {
	rec, err := s.Get(ctx, v)
	if err != nil {
		return err
	}
	rec.Forward = append(rec.Forward, forward...)
	rec.Backward = append(append(make([]delta.Delta, 0, len(backward)+len(rec.Backward)), backward...), rec.Backward...)
	return s.Put(ctx, v, rec.Forward, rec.Backward)
}

// Get returns ErrDeltaNotFound for versions without a record, roots included.
func (s *Store) Get(ctx context.Context, v versionforest.VersionId) (Record, error) {
	data, err := s.table.Get(ctx, recordKey(v))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Record{}, fmt.Errorf("%w: %s", ErrDeltaNotFound, v)
		}
		return Record{}, err
	}
	return unmarshalRecord(v, data)
}

func (s *Store) GetForward(ctx context.Context, v versionforest.VersionId) ([]delta.Delta, error) {
	rec, err := s.Get(ctx, v)
	if err != nil {
		return nil, err
	}
	return rec.Forward, nil
}

func (s *Store) GetBackward(ctx context.Context, v versionforest.VersionId) ([]delta.Delta, error) {
	rec, err := s.Get(ctx, v)
	if err != nil {
		return nil, err
	}
	return rec.Backward, nil
}

func (s *Store) Has(ctx context.Context, v versionforest.VersionId) (bool, error) {
	_, ok, err := kvstore.Lookup(ctx, s.table, recordKey(v))
	return ok, err
}
