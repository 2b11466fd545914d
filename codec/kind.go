package codec

import (
	"fmt"
	"strings"
)

// Kind identifies how a key or a value is encoded.
type Kind uint32

const (
	Blob   Kind = 0 // length-prefixed raw bytes
	Handle Kind = 1 // 8-byte big-endian reference
	String Kind = 2 // null-terminated
	U32    Kind = 3 // 4-byte big-endian

	// FirstRegistered is the first kind handed out by Registry.Reg.
	FirstRegistered Kind = 4
)

// Miss is the invalid sentinel shared by kinds and handles.
const Miss = 0xFFFFFFFF

var kindNames = map[Kind]string{
	Blob:   "blob",
	Handle: "handle",
	String: "string",
	U32:    "u32",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("reg%d", uint32(k))
}

// Builtin reports whether k is one of the four fixed kinds.
func (k Kind) Builtin() bool {
	return k < FirstRegistered
}

// ParseKind accepts a builtin kind name, case insensitive.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return Miss, fmt.Errorf("kind '%s': %w", s, ErrUnknownKind)
}
