package deltastore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/anyproto/any-snapshot/delta"
	"github.com/anyproto/any-snapshot/kvstore"
)

// Capture applies deltas to data in order and returns the sequence undoing them.
// The undo of the last applied delta comes first.
func Capture(ctx context.Context, data kvstore.Table, deltas []delta.Delta) (backward []delta.Delta, err error) {
	backward = make([]delta.Delta, len(deltas))
	for i, d := range deltas {
		old, ok, err := kvstore.Lookup(ctx, data, d.Key)
		if err != nil {
			return nil, err
		}
		if ok {
			backward[len(deltas)-1-i] = delta.Insert(d.Key, old)
		} else {
			backward[len(deltas)-1-i] = delta.Remove(d.Key)
		}
		if err = Apply(ctx, data, d); err != nil {
			return nil, err
		}
	}
	return backward, nil
}

// Apply applies deltas without checking the table state.
func Apply(ctx context.Context, data kvstore.Table, deltas ...delta.Delta) error {
	for _, d := range deltas {
		var err error
		if d.IsInsert() {
			err = data.Insert(ctx, d.Key, d.Value)
		} else {
			err = data.Remove(ctx, d.Key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ApplyForward moves data from the parent state to the state of the record.
// Every delta is checked against the pre-state its undo remembers.
func ApplyForward(ctx context.Context, data kvstore.Table, rec Record) error {
	n := len(rec.Forward)
	if n != len(rec.Backward) {
		return fmt.Errorf("%w: %d forward and %d backward deltas", ErrCorruptRecord, n, len(rec.Backward))
	}
	for i, d := range rec.Forward {
		undo := rec.Backward[n-1-i]
		if err := expect(ctx, data, d, undo); err != nil {
			return err
		}
		if err := Apply(ctx, data, d); err != nil {
			return err
		}
	}
	return nil
}

// ApplyBackward moves data from the state of the record back to the parent state.
// Every delta is checked against the post-state of the forward delta it undoes.
func ApplyBackward(ctx context.Context, data kvstore.Table, rec Record) error {
	n := len(rec.Backward)
	if n != len(rec.Forward) {
		return fmt.Errorf("%w: %d forward and %d backward deltas", ErrCorruptRecord, len(rec.Forward), n)
	}
	for i, d := range rec.Backward {
		redo := rec.Forward[n-1-i]
		if err := expect(ctx, data, d, redo); err != nil {
			return err
		}
		if err := Apply(ctx, data, d); err != nil {
			return err
		}
	}
	return nil
}

// expect checks that data holds the key state described by state before d is applied.
func expect(ctx context.Context, data kvstore.Table, d, state delta.Delta) error {
	if !bytes.Equal(d.Key, state.Key) {
		return fmt.Errorf("%w: paired deltas %s and %s touch different keys", ErrCorruptRecord, d, state)
	}
	value, ok, err := kvstore.Lookup(ctx, data, d.Key)
	if err != nil {
		return err
	}
	switch {
	case state.IsInsert() && !ok:
		return fmt.Errorf("%w: key %q expected %q, found absent", ErrDeltaApplyInconsistency, d.Key, state.Value)
	case state.IsInsert() && !bytes.Equal(value, state.Value):
		return fmt.Errorf("%w: key %q expected %q, found %q", ErrDeltaApplyInconsistency, d.Key, state.Value, value)
	case !state.IsInsert() && ok:
		return fmt.Errorf("%w: key %q expected absent, found %q", ErrDeltaApplyInconsistency, d.Key, value)
	}
	return nil
}
