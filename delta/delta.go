// Package delta describes single keyed changes of a data table and their anyenc form.
package delta

import (
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed delta encoding")

type Op uint8

const (
	OpInsert Op = iota + 1
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Delta is either Insert(Key, Value) or Remove(Key).
// An insert with an empty value is a valid insert, not a removal.
type Delta struct {
	Op    Op
	Key   []byte
	Value []byte
}

func Insert(key, value []byte) Delta {
	if value == nil {
		value = []byte{}
	}
	return Delta{Op: OpInsert, Key: key, Value: value}
}

func Remove(key []byte) Delta {
	return Delta{Op: OpRemove, Key: key}
}

func (d Delta) IsInsert() bool {
	return d.Op == OpInsert
}

func (d Delta) String() string {
	if d.IsInsert() {
		return fmt.Sprintf("+%q=%q", d.Key, d.Value)
	}
	return fmt.Sprintf("-%q", d.Key)
}
