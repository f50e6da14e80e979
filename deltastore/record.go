package deltastore

import (
	"encoding/binary"
	"fmt"

	"github.com/anyproto/any-store/anyenc"

	"github.com/anyproto/any-snapshot/delta"
	"github.com/anyproto/any-snapshot/versionforest"
)

/**

record document structure:
	f (array) - forward deltas
	b (array) - backward deltas
*/

const (
	recordPrefix = 'd'

	forwardKey  = "f"
	backwardKey = "b"
)

var (
	parserPool = &anyenc.ParserPool{}
	arenaPool  = &anyenc.ArenaPool{}
)

// Record is the change set of a non-root version.
// Forward turns the parent state into the version state, Backward turns it back.
// Forward[i] is undone by Backward[len(Backward)-1-i].
type Record struct {
	Forward  []delta.Delta
	Backward []delta.Delta
}

// EncodedSize returns the number of bytes the record takes in the table.
func (r Record) EncodedSize() int {
	return len(r.marshal())
}

func (r Record) marshal() []byte {
	arena := arenaPool.Get()
	defer arenaPool.Put(arena)
	doc := arena.NewObject()
	doc.Set(forwardKey, delta.NewSequenceValue(arena, r.Forward))
	doc.Set(backwardKey, delta.NewSequenceValue(arena, r.Backward))
	return doc.MarshalTo(nil)
}

func unmarshalRecord(v versionforest.VersionId, data []byte) (r Record, err error) {
	parser := parserPool.Get()
	defer parserPool.Put(parser)
	doc, err := parser.Parse(data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s: %w", ErrCorruptRecord, v, err)
	}
	if doc.Type() != anyenc.TypeObject {
		return Record{}, fmt.Errorf("%w: %s: %s instead of object", ErrCorruptRecord, v, doc.Type())
	}
	if r.Forward, err = delta.ParseSequence(doc.Get(forwardKey)); err != nil {
		return Record{}, fmt.Errorf("%w: %s forward: %w", ErrCorruptRecord, v, err)
	}
	if r.Backward, err = delta.ParseSequence(doc.Get(backwardKey)); err != nil {
		return Record{}, fmt.Errorf("%w: %s backward: %w", ErrCorruptRecord, v, err)
	}
	if len(r.Forward) != len(r.Backward) {
		return Record{}, fmt.Errorf("%w: %s: %d forward and %d backward deltas", ErrCorruptRecord, v, len(r.Forward), len(r.Backward))
	}
	return r, nil
}

func recordKey(v versionforest.VersionId) []byte {
	key := make([]byte, 1, 9)
	key[0] = recordPrefix
	return binary.BigEndian.AppendUint64(key, uint64(v))
}
