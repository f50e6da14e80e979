package kvstore

import (
	"context"
	"encoding/binary"

	"github.com/cespare/xxhash"
)

// Fingerprint digests the whole table in key order. Two tables with the same pairs have the same fingerprint.
func Fingerprint(ctx context.Context, t Table) (sum uint64, err error) {
	var (
		d      = xxhash.New()
		lenBuf = make([]byte, 0, binary.MaxVarintLen64)
	)
	err = t.Iterate(ctx, func(key, value []byte) (bool, error) {
		// length prefixes keep ("ab","c") and ("a","bc") apart
		lenBuf = binary.AppendUvarint(lenBuf[:0], uint64(len(key)))
		_, _ = d.Write(lenBuf)
		_, _ = d.Write(key)
		lenBuf = binary.AppendUvarint(lenBuf[:0], uint64(len(value)))
		_, _ = d.Write(lenBuf)
		_, _ = d.Write(value)
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}
