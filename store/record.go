package store

import (
	"bytes"
)

// Record is immutable once indexed. Updates replace the pointer and keep
// Seq, so snapshots holding the old pointer stay consistent.
type Record struct {
	Key   []byte
	Value []byte
	Seq   uint64
}

func lessKey(a, b *Record) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

func lessSeq(a, b *Record) bool {
	return a.Seq < b.Seq
}
