package delta

import (
	"fmt"

	"github.com/anyproto/any-store/anyenc"
)

/**

delta document structure:
	o (number) - op
	k (bytes) - key
	v (bytes) - value, inserts only
*/

const (
	opKey    = "o"
	keyKey   = "k"
	valueKey = "v"
)

func (d Delta) AnyEnc(a *anyenc.Arena) *anyenc.Value {
	obj := a.NewObject()
	obj.Set(opKey, a.NewNumberInt(int(d.Op)))
	obj.Set(keyKey, a.NewBinary(d.Key))
	if d.IsInsert() {
		obj.Set(valueKey, a.NewBinary(d.Value))
	}
	return obj
}

// FromAnyEnc reads a document built by AnyEnc.
// Key and value are copies and do not alias the parser buffer.
func FromAnyEnc(v *anyenc.Value) (d Delta, err error) {
	if v.Type() != anyenc.TypeObject {
		return Delta{}, fmt.Errorf("%w: %s instead of object", ErrMalformed, v.Type())
	}
	op, err := v.Get(opKey).Int()
	if err != nil {
		return Delta{}, fmt.Errorf("%w: op: %w", ErrMalformed, err)
	}
	d.Op = Op(op)
	if d.Op != OpInsert && d.Op != OpRemove {
		return Delta{}, fmt.Errorf("%w: unknown op %d", ErrMalformed, op)
	}
	key, err := v.Get(keyKey).Bytes()
	if err != nil {
		return Delta{}, fmt.Errorf("%w: key: %w", ErrMalformed, err)
	}
	d.Key = append([]byte{}, key...)
	if d.IsInsert() {
		value, err := v.Get(valueKey).Bytes()
		if err != nil {
			return Delta{}, fmt.Errorf("%w: value: %w", ErrMalformed, err)
		}
		d.Value = append([]byte{}, value...)
	}
	return d, nil
}

func NewSequenceValue(a *anyenc.Arena, deltas []Delta) *anyenc.Value {
	arr := a.NewArray()
	for i, d := range deltas {
		arr.SetArrayItem(i, d.AnyEnc(a))
	}
	return arr
}

// ParseSequence reads an array built by NewSequenceValue.
func ParseSequence(v *anyenc.Value) (deltas []Delta, err error) {
	items, err := v.Array()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	deltas = make([]Delta, 0, len(items))
	for i, item := range items {
		d, err := FromAnyEnc(item)
		if err != nil {
			return nil, fmt.Errorf("delta %d: %w", i, err)
		}
		deltas = append(deltas, d)
	}
	return deltas, nil
}
