package codec

import (
	"bytes"
	"fmt"
	"sync"
)

const maxRegistered = 255

// Registry hands out fixed-size kinds. Registrations are monotonic and
// live as long as the registry: there is no release.
type Registry struct {
	mutex *sync.RWMutex
	sizes []int
}

func NewRegistry() *Registry {
	return &Registry{
		mutex: &sync.RWMutex{},
	}
}

// Reg reserves a new kind whose values are exactly size bytes long.
func (r *Registry) Reg(size int) (Kind, error) {
	if size <= 0 {
		return Miss, fmt.Errorf("reg %d: %w", size, ErrInvalidSize)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(r.sizes) >= maxRegistered {
		return Miss, ErrRegistryFull
	}
	r.sizes = append(r.sizes, size)

	return FirstRegistered + Kind(len(r.sizes)-1), nil
}

// Size returns the fixed width of a registered kind.
func (r *Registry) Size(kind Kind) (int, bool) {
	if r == nil || kind < FirstRegistered {
		return 0, false
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	i := int(kind - FirstRegistered)
	if i >= len(r.sizes) {
		return 0, false
	}
	return r.sizes[i], true
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sizes)
}

// Valid reports whether kind can be encoded by r. A nil registry only
// knows the builtin kinds.
func (r *Registry) Valid(kind Kind) bool {
	if kind.Builtin() {
		return true
	}
	_, ok := r.Size(kind)
	return ok
}

func (r *Registry) Encode(kind Kind, v any) ([]byte, error) {
	if kind.Builtin() {
		return Encode(kind, v)
	}

	size, ok := r.Size(kind)
	if !ok {
		return nil, fmt.Errorf("encode %s: %w", kind, ErrUnknownKind)
	}
	raw, err := toBytes(v)
	if err != nil {
		return nil, err
	}
	if len(raw) != size {
		return nil, fmt.Errorf("%s wants %d bytes, got %d: %w", kind, size, len(raw), ErrInvalidValue)
	}
	return bytes.Clone(raw), nil
}

func (r *Registry) Decode(kind Kind, b []byte) (any, error) {
	if kind.Builtin() {
		return Decode(kind, b)
	}

	size, ok := r.Size(kind)
	if !ok {
		return nil, fmt.Errorf("decode %s: %w", kind, ErrUnknownKind)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s width %d: %w", kind, len(b), ErrMalformed)
	}
	return bytes.Clone(b), nil
}

// Check validates b as an encoding of kind without building the value.
func (r *Registry) Check(kind Kind, b []byte) error {
	_, err := r.Decode(kind, b)
	return err
}
