package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownKind  = errors.New("unknown kind")
	ErrInvalidValue = errors.New("invalid value")
	ErrMalformed    = errors.New("malformed encoding")
	ErrInvalidSize  = errors.New("invalid size")
	ErrRegistryFull = errors.New("registry full")
)

const blobPrefix = 4

// Encode returns the canonical bytes of v for one of the builtin kinds.
// Registered kinds need a Registry, see Registry.Encode.
func Encode(kind Kind, v any) ([]byte, error) {
	switch kind {
	case Blob:
		raw, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if uint64(len(raw)) > math.MaxUint32 {
			return nil, fmt.Errorf("blob of %d bytes: %w", len(raw), ErrInvalidValue)
		}
		b := make([]byte, blobPrefix+len(raw))
		binary.BigEndian.PutUint32(b, uint32(len(raw)))
		copy(b[blobPrefix:], raw)
		return b, nil

	case Handle:
		n, err := toUint64(v)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.AppendUint64(nil, n), nil

	case String:
		raw, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if bytes.IndexByte(raw, 0) >= 0 {
			return nil, fmt.Errorf("string with embedded NUL: %w", ErrInvalidValue)
		}
		b := make([]byte, len(raw)+1)
		copy(b, raw)
		return b, nil

	case U32:
		n, err := toUint64(v)
		if err != nil {
			return nil, err
		}
		if n > math.MaxUint32 {
			return nil, fmt.Errorf("%d overflows u32: %w", n, ErrInvalidValue)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(n)), nil
	}

	return nil, fmt.Errorf("encode %s: %w", kind, ErrUnknownKind)
}

// Decode is the inverse of Encode. It rejects anything Encode could not
// have produced.
func Decode(kind Kind, b []byte) (any, error) {
	switch kind {
	case Blob:
		if len(b) < blobPrefix {
			return nil, fmt.Errorf("blob header: %w", ErrMalformed)
		}
		n := binary.BigEndian.Uint32(b)
		if uint64(len(b)-blobPrefix) != uint64(n) {
			return nil, fmt.Errorf("blob length %d, have %d: %w", n, len(b)-blobPrefix, ErrMalformed)
		}
		return bytes.Clone(b[blobPrefix:]), nil

	case Handle:
		if len(b) != 8 {
			return nil, fmt.Errorf("handle width %d: %w", len(b), ErrMalformed)
		}
		return binary.BigEndian.Uint64(b), nil

	case String:
		if len(b) == 0 || b[len(b)-1] != 0 {
			return nil, fmt.Errorf("string terminator: %w", ErrMalformed)
		}
		if bytes.IndexByte(b[:len(b)-1], 0) >= 0 {
			return nil, fmt.Errorf("string embedded NUL: %w", ErrMalformed)
		}
		return string(b[:len(b)-1]), nil

	case U32:
		if len(b) != 4 {
			return nil, fmt.Errorf("u32 width %d: %w", len(b), ErrMalformed)
		}
		return binary.BigEndian.Uint32(b), nil
	}

	return nil, fmt.Errorf("decode %s: %w", kind, ErrUnknownKind)
}

func toBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		if t == nil {
			return []byte{}, nil
		}
		return t, nil
	case string:
		return []byte(t), nil
	}
	return nil, fmt.Errorf("%T is not bytes: %w", v, ErrInvalidValue)
}

func toUint64(v any) (uint64, error) {
	var i int64
	switch t := v.(type) {
	case uint64:
		return t, nil
	case uint32:
		return uint64(t), nil
	case uint16:
		return uint64(t), nil
	case uint8:
		return uint64(t), nil
	case uint:
		return uint64(t), nil
	case int:
		i = int64(t)
	case int64:
		i = t
	case int32:
		i = int64(t)
	case int16:
		i = int64(t)
	case int8:
		i = int64(t)
	case float64:
		// JSON numbers
		if t < 0 || t != math.Trunc(t) || t >= math.MaxUint64 {
			return 0, fmt.Errorf("%v is not an unsigned integer: %w", t, ErrInvalidValue)
		}
		return uint64(t), nil
	default:
		return 0, fmt.Errorf("%T is not an integer: %w", v, ErrInvalidValue)
	}
	if i < 0 {
		return 0, fmt.Errorf("%d is negative: %w", i, ErrInvalidValue)
	}
	return uint64(i), nil
}
