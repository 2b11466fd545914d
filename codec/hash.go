package codec

import (
	"github.com/cespare/xxhash/v2"
)

// Hash of canonical bytes.
func Hash(b []byte) uint64 {
	return xxhash.Sum64(b)
}

func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}
