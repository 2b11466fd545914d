package store

import (
	"errors"
	"testing"

	. "github.com/fulldump/biff"

	"github.com/fulldump/qmapdb/codec"
	"github.com/fulldump/qmapdb/storage"
)

func TestAssociate_Reverse(t *testing.T) {

	backend := storage.NewMemory()
	users, _ := Open(backend, Options{Name: "users", KeyKind: codec.String, ValueKind: codec.U32})
	byId, _ := Open(backend, Options{Name: "by_id", KeyKind: codec.U32, ValueKind: codec.String})

	users.Put(str("alice"), u32(1))

	err := users.Associate(byId, Reverse)
	AssertNil(err)

	// existing records are copied
	name, found, _ := byId.Get(u32(1))
	AssertTrue(found)
	AssertEqual(name, str("alice"))

	users.Put(str("bob"), u32(2))
	name, _, _ = byId.Get(u32(2))
	AssertEqual(name, str("bob"))

	// changing the value moves the reverse entry
	users.Put(str("bob"), u32(3))
	_, found, _ = byId.Get(u32(2))
	AssertFalse(found)
	name, _, _ = byId.Get(u32(3))
	AssertEqual(name, str("bob"))

	users.Delete(str("alice"))
	_, found, _ = byId.Get(u32(1))
	AssertFalse(found)
	AssertEqual(length(byId), 1)
}

func TestAssociate_KindMismatch(t *testing.T) {

	backend := storage.NewMemory()
	users, _ := Open(backend, Options{Name: "users", KeyKind: codec.String, ValueKind: codec.U32})
	other, _ := Open(backend, Options{Name: "other", KeyKind: codec.String, ValueKind: codec.String})

	err := users.Associate(other, Reverse)
	AssertNil(err)

	_, err = users.Put(str("alice"), u32(1))
	AssertTrue(errors.Is(err, ErrAssoc))
	AssertEqual(length(users), 0)
}

func TestAssociate_Rules(t *testing.T) {

	backend := storage.NewMemory()
	a, _ := Open(backend, Options{Name: "a", KeyKind: codec.U32, ValueKind: codec.U32})
	b, _ := Open(backend, Options{Name: "b", KeyKind: codec.U32, ValueKind: codec.U32})
	c, _ := Open(backend, Options{Name: "c", KeyKind: codec.U32, ValueKind: codec.U32})

	AssertTrue(errors.Is(a.Associate(a, Reverse), ErrAssoc))
	AssertNil(a.Associate(b, Reverse))

	// no chains
	AssertTrue(errors.Is(c.Associate(a, Reverse), ErrAssoc))
	AssertTrue(errors.Is(b.Associate(c, Reverse), ErrAssoc))
}

func TestAssociate_SecondaryClosed(t *testing.T) {

	backend := storage.NewMemory()
	a, _ := Open(backend, Options{Name: "a", KeyKind: codec.U32, ValueKind: codec.U32})
	b, _ := Open(backend, Options{Name: "b", KeyKind: codec.U32, ValueKind: codec.U32})

	a.Associate(b, Reverse)
	AssertNil(b.Close())

	inserted, err := a.Put(u32(1), u32(2))
	AssertNil(err)
	AssertTrue(inserted)
}

func TestAssociate_CustomDeriver(t *testing.T) {

	backend := storage.NewMemory()
	scores, _ := Open(backend, Options{Name: "scores", KeyKind: codec.String, ValueKind: codec.U32})
	high, _ := Open(backend, Options{Name: "high", KeyKind: codec.String, ValueKind: codec.U32, Features: Sorted})

	onlyHigh := func(key, value []byte) ([]byte, []byte, bool) {
		v, _ := codec.Decode(codec.U32, value)
		return key, value, v.(uint32) >= 100
	}
	scores.Associate(high, onlyHigh)

	scores.Put(str("a"), u32(50))
	scores.Put(str("b"), u32(150))
	AssertEqual(length(high), 1)

	scores.Put(str("b"), u32(10))
	AssertEqual(length(high), 0)
}
