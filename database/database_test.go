package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/fulldump/biff"
	"github.com/google/uuid"

	"github.com/fulldump/qmapdb/codec"
	"github.com/fulldump/qmapdb/store"
)

func Environment(f func(db *Database, dir string)) {
	dir := filepath.Join(os.TempDir(), "qmapdb_test_"+uuid.New().String())
	defer os.RemoveAll(dir)

	db := New(&Config{Dir: dir, Engine: "journal"})
	defer db.Shutdown()

	f(db, dir)
}

func collect(db *Database, c Handle) [][2]any {
	result := [][2]any{}
	for {
		k, v, ok, err := db.Next(c)
		AssertNil(err)
		if !ok {
			return result
		}
		result = append(result, [2]any{k, v})
	}
}

func TestOpen_UnknownKind(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, err := db.Open("data", "users", codec.Kind(9), codec.String, 0, store.Create)
		AssertEqual(h, InvalidHandle)
		AssertTrue(errors.Is(err, ErrOpen))
		AssertTrue(errors.Is(err, ErrUnknownKind))
	})
}

func TestOpen_MissingFile(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, err := db.Open("missing", "users", codec.String, codec.String, 0, 0)
		AssertEqual(h, InvalidHandle)
		AssertTrue(errors.Is(err, ErrOpen))
	})
}

func TestOpen_AlreadyOpen(t *testing.T) {
	Environment(func(db *Database, dir string) {

		_, err := db.Open("data", "users", codec.String, codec.String, 0, store.Create)
		AssertNil(err)

		h, err := db.Open("data", "users", codec.String, codec.String, 0, store.Create)
		AssertEqual(h, InvalidHandle)
		AssertTrue(errors.Is(err, ErrAlreadyOpen))

		// anonymous stores never collide
		a, err := db.Open("", "tmp", codec.String, codec.String, 0, 0)
		AssertNil(err)
		b, err := db.Open("", "tmp", codec.String, codec.String, 0, 0)
		AssertNil(err)
		AssertNotEqual(a, b)
	})
}

func TestStaleHandle(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "users", codec.String, codec.U32, 0, store.Create)
		AssertNil(db.Close(h))

		err := db.Close(h)
		AssertTrue(errors.Is(err, ErrInvalidHandle))

		_, err = db.Put(h, "a", 1)
		AssertTrue(errors.Is(err, ErrInvalidHandle))

		_, _, err = db.Get(h, "a")
		AssertTrue(errors.Is(err, ErrInvalidHandle))

		_, err = db.Del(h, "a")
		AssertTrue(errors.Is(err, ErrInvalidHandle))

		AssertTrue(errors.Is(db.Drop(h), ErrInvalidHandle))

		// the same store again gets a new handle
		h2, err := db.Open("data", "users", codec.String, codec.U32, 0, 0)
		AssertNil(err)
		AssertNotEqual(h2, h)

		_, err = db.Put(h, "a", 1)
		AssertTrue(errors.Is(err, ErrInvalidHandle))
	})
}

func TestStaleHandle_StoreClosedUnderneath(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("", "users", codec.String, codec.U32, store.Mirror, store.Create)
		e, err := db.entry(h)
		AssertNil(err)
		AssertNil(e.store.Close())

		_, err = db.Len(h)
		AssertTrue(errors.Is(err, ErrInvalidHandle))

		_, err = db.Stats(h)
		AssertTrue(errors.Is(err, ErrInvalidHandle))

		_, err = db.Cached(h, "a")
		AssertTrue(errors.Is(err, ErrInvalidHandle))
	})
}

func TestPutGetDel(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "users", codec.String, codec.U32, 0, store.Create)

		inserted, err := db.Put(h, "alice", 30)
		AssertNil(err)
		AssertTrue(inserted)

		value, found, err := db.Get(h, "alice")
		AssertNil(err)
		AssertTrue(found)
		AssertEqual(value, uint32(30))

		_, found, err = db.Get(h, "bob")
		AssertNil(err)
		AssertFalse(found)

		found, err = db.Del(h, "bob")
		AssertNil(err)
		AssertFalse(found)

		found, err = db.Del(h, "alice")
		AssertNil(err)
		AssertTrue(found)

		n, _ := db.Len(h)
		AssertEqual(n, 0)

		_, err = db.Put(h, 12, 1)
		AssertTrue(errors.Is(err, codec.ErrInvalidValue))
	})
}

func TestSortedIteration(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "words", codec.String, codec.U32, store.Sorted, store.Create)
		db.Put(h, "c", 3)
		db.Put(h, "a", 1)
		db.Put(h, "b", 2)

		c, err := db.Iter(h, nil, store.Range)
		AssertNil(err)
		AssertEqual(collect(db, c), [][2]any{{"a", uint32(1)}, {"b", uint32(2)}, {"c", uint32(3)}})

		// the end is terminal
		_, _, ok, err := db.Next(c)
		AssertNil(err)
		AssertFalse(ok)
		AssertNil(db.Fin(c))

		c, _ = db.Iter(h, "b", store.Range)
		AssertEqual(collect(db, c), [][2]any{{"b", uint32(2)}, {"c", uint32(3)}})
		AssertNil(db.Fin(c))

		_, _, _, err = db.Next(c)
		AssertTrue(errors.Is(err, ErrInvalidHandle))
		AssertTrue(errors.Is(db.Fin(c), ErrInvalidHandle))
	})
}

func TestMirrorPopulateOnGet(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "cache", codec.String, codec.String, store.Mirror|store.PopulateOnGet, store.Create)
		db.Put(h, "k", "v")

		value, _, _ := db.Get(h, "k")
		AssertEqual(value, "v")
		cached, _ := db.Cached(h, "k")
		AssertTrue(cached)

		value, _, _ = db.Get(h, "k")
		AssertEqual(value, "v")

		stats, _ := db.Stats(h)
		AssertEqual(stats.Reads, uint64(1))
		AssertEqual(stats.MirrorHits, uint64(1))

		db.Put(h, "k", "w")
		cached, _ = db.Cached(h, "k")
		AssertFalse(cached)
		value, _, _ = db.Get(h, "k")
		AssertEqual(value, "w")
	})
}

func TestPrefetch(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("", "cache", codec.U32, codec.String, store.Mirror, 0)
		db.Put(h, 1, "one")

		ok, err := db.Prefetch(h, 1)
		AssertNil(err)
		AssertTrue(ok)

		db.Get(h, 1)
		stats, _ := db.Stats(h)
		AssertEqual(stats.MirrorHits, uint64(1))
		AssertEqual(stats.Reads, uint64(1)) // the prefetch itself
	})
}

func TestCursorReleasedWithStore(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "users", codec.String, codec.U32, 0, store.Create)
		db.Put(h, "a", 1)

		c, err := db.Iter(h, nil, 0)
		AssertNil(err)
		AssertNotEqual(c, h)

		stats, _ := db.Stats(h)
		AssertEqual(stats.Cursors, 1)

		AssertNil(db.Close(h))

		_, _, _, err = db.Next(c)
		AssertTrue(errors.Is(err, ErrInvalidHandle))
		AssertTrue(errors.Is(db.Fin(c), ErrInvalidHandle))
	})
}

func TestCursorSnapshot(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("", "log", codec.U32, codec.String, store.ArrayIndex, 0)
		db.Append(h, "first")
		db.Append(h, "second")

		c, _ := db.Iter(h, nil, 0)
		db.Append(h, "third")
		db.Del(h, 0)

		AssertEqual(collect(db, c), [][2]any{{uint32(0), "first"}, {uint32(1), "second"}})
	})
}

func TestAppend(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "log", codec.Handle, codec.String, store.ArrayIndex, store.Create)

		for i, v := range []string{"a", "b", "c"} {
			key, err := db.Append(h, v)
			AssertNil(err)
			AssertEqual(key, uint64(i))
		}

		key, value, found, err := db.At(h, 1)
		AssertNil(err)
		AssertTrue(found)
		AssertEqual(key, uint64(1))
		AssertEqual(value, "b")

		other, _ := db.Open("data", "names", codec.String, codec.String, store.ArrayIndex, store.Create)
		_, err = db.Append(other, "x")
		AssertTrue(errors.Is(err, ErrNotAppendable))
	})
}

func TestPersistence(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "users", codec.String, codec.U32, 0, store.Create)
		db.Put(h, "alice", 1)
		AssertNil(db.Close(h))

		h, _ = db.Open("data", "users", codec.String, codec.U32, 0, 0)
		value, found, _ := db.Get(h, "alice")
		AssertTrue(found)
		AssertEqual(value, uint32(1))

		// drop loses what was not saved
		db.Put(h, "bob", 2)
		AssertNil(db.Drop(h))

		h, _ = db.Open("data", "users", codec.String, codec.U32, 0, 0)
		_, found, _ = db.Get(h, "bob")
		AssertFalse(found)
	})
}

func TestSave(t *testing.T) {
	Environment(func(db *Database, dir string) {

		a, _ := db.Open("data", "a", codec.String, codec.U32, 0, store.Create)
		b, _ := db.Open("other", "b", codec.String, codec.U32, 0, store.Create)
		db.Put(a, "x", 1)
		db.Put(b, "y", 2)

		AssertNil(db.Save())
		AssertNil(db.Drop(a))
		AssertNil(db.Drop(b))

		a, _ = db.Open("data", "a", codec.String, codec.U32, 0, 0)
		b, _ = db.Open("other", "b", codec.String, codec.U32, 0, 0)
		n, _ := db.Len(a)
		AssertEqual(n, 1)
		n, _ = db.Len(b)
		AssertEqual(n, 1)
	})
}

func TestSharedPath(t *testing.T) {
	Environment(func(db *Database, dir string) {

		users, _ := db.Open("data", "users", codec.String, codec.U32, 0, store.Create)
		groups, err := db.Open("data", "groups", codec.U32, codec.String, store.Sorted, store.Create)
		AssertNil(err)

		db.Put(users, "alice", 1)
		db.Put(groups, 1, "admins")
		AssertNil(db.Close(users))

		// the backend is still in use by groups
		db.Put(groups, 2, "guests")
		AssertNil(db.Close(groups))

		groups, _ = db.Open("data", "groups", codec.U32, codec.String, store.Sorted, 0)
		n, _ := db.Len(groups)
		AssertEqual(n, 2)

		users, _ = db.Open("data", "users", codec.String, codec.U32, 0, 0)
		value, _, _ := db.Get(users, "alice")
		AssertEqual(value, uint32(1))
	})
}

func TestCorruptDeclaration(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "users", codec.String, codec.U32, 0, store.Create)
		db.Put(h, "alice", 1)
		AssertNil(db.Close(h))

		h, err := db.Open("data", "users", codec.U32, codec.U32, 0, 0)
		AssertEqual(h, InvalidHandle)
		AssertTrue(errors.Is(err, ErrCorrupt))

		h, err = db.Open("data", "users", codec.String, codec.U32, store.Sorted, 0)
		AssertEqual(h, InvalidHandle)
		AssertTrue(errors.Is(err, ErrCorrupt))

		// the data is untouched
		h, err = db.Open("data", "users", codec.String, codec.U32, 0, 0)
		AssertNil(err)
		n, _ := db.Len(h)
		AssertEqual(n, 1)
	})
}

func TestReadOnly(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "users", codec.String, codec.U32, 0, store.Create)
		db.Put(h, "alice", 1)
		AssertNil(db.Close(h))

		h, err := db.Open("data", "users", codec.String, codec.U32, 0, store.ReadOnly)
		AssertNil(err)

		_, err = db.Put(h, "bob", 2)
		AssertTrue(errors.Is(err, ErrReadOnly))

		// a writable store cannot share a read only backend
		_, err = db.Open("data", "other", codec.String, codec.U32, 0, store.Create)
		AssertTrue(errors.Is(err, ErrReadOnly))
	})
}

func TestReg(t *testing.T) {
	Environment(func(db *Database, dir string) {

		kind, err := db.Reg(16)
		AssertNil(err)
		AssertEqual(kind, codec.FirstRegistered)

		h, err := db.Open("", "ids", kind, codec.String, 0, 0)
		AssertNil(err)

		id := make([]byte, 16)
		id[0] = 7
		_, err = db.Put(h, id, "seven")
		AssertNil(err)

		_, err = db.Put(h, []byte("short"), "x")
		AssertNotNil(err)

		value, _, _ := db.Get(h, id)
		AssertEqual(value, "seven")

		// every database has its own registry
		other := New(&Config{Dir: dir})
		_, err = other.Open("", "ids", kind, codec.String, 0, 0)
		AssertTrue(errors.Is(err, ErrUnknownKind))
	})
}

func TestAssoc(t *testing.T) {
	Environment(func(db *Database, dir string) {

		users, _ := db.Open("data", "users", codec.String, codec.U32, 0, store.Create)
		byId, _ := db.Open("data", "by_id", codec.U32, codec.String, 0, store.Create)

		AssertNil(db.Assoc(byId, users, AssocReverse))

		db.Put(users, "alice", 1)
		name, found, _ := db.Get(byId, 1)
		AssertTrue(found)
		AssertEqual(name, "alice")

		db.Del(users, "alice")
		_, found, _ = db.Get(byId, 1)
		AssertFalse(found)

		wrong, _ := db.Open("", "wrong", codec.String, codec.String, 0, 0)
		err := db.Assoc(wrong, users, AssocReverse)
		AssertTrue(errors.Is(err, store.ErrAssoc))

		err = db.Assoc(byId, users, AssocMode(7))
		AssertTrue(errors.Is(err, ErrUnknownAssoc))
	})
}

func TestList(t *testing.T) {
	Environment(func(db *Database, dir string) {

		a, _ := db.Open("data", "a", codec.String, codec.U32, store.Sorted, store.Create)
		db.Open("data", "b", codec.Blob, codec.Handle, 0, store.Create)
		db.Put(a, "x", 1)

		list := db.List()
		AssertEqual(len(list), 2)
		AssertEqual(list[0].Name, "a")
		AssertEqual(list[0].Path, "data")
		AssertEqual(list[0].Features, "sorted")
		AssertEqual(list[0].Records, 1)
		AssertEqual(list[1].KeyKind, "blob")
		AssertEqual(list[1].ValueKind, "handle")

		h, ok := db.Lookup("data", "a")
		AssertTrue(ok)
		AssertEqual(h, a)

		_, ok = db.Lookup("data", "c")
		AssertFalse(ok)
	})
}

func TestLoad(t *testing.T) {
	for _, engine := range []string{"journal", "bolt", "pebble"} {
		t.Run(engine, func(t *testing.T) {
			Environment(func(db *Database, dir string) {

				db.config.Engine = engine
				h, err := db.Open(engine, "users", codec.String, codec.U32, store.Sorted, store.Create)
				AssertNil(err)
				db.Put(h, "alice", 1)
				db.Put(h, "bob", 2)
				db.Open(engine, "empty", codec.U32, codec.Blob, 0, store.Create)
				AssertNil(db.Shutdown())

				loaded := New(&Config{Dir: dir})
				AssertNil(loaded.Load())
				defer loaded.Shutdown()

				AssertEqual(loaded.GetStatus(), StatusOperating)

				list := loaded.List()
				AssertEqual(len(list), 2)

				h, ok := loaded.Lookup(engine, "users")
				AssertTrue(ok)
				c, _ := loaded.Iter(h, nil, store.Range)
				AssertEqual(collect(loaded, c), [][2]any{{"alice", uint32(1)}, {"bob", uint32(2)}})
			})
		})
	}
}

func TestShutdown(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "users", codec.String, codec.U32, 0, store.Create)
		db.Put(h, "alice", 1)

		AssertNil(db.Shutdown())
		AssertEqual(db.GetStatus(), StatusClosing)

		_, err := db.Put(h, "bob", 2)
		AssertTrue(errors.Is(err, ErrInvalidHandle))

		_, err = db.Open("data", "users", codec.String, codec.U32, 0, 0)
		AssertTrue(errors.Is(err, ErrShutdown))
	})
}

func TestLoad_AfterShutdown(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "users", codec.String, codec.U32, 0, store.Create)
		db.Put(h, "alice", 1)
		AssertNil(db.Shutdown())

		late := New(&Config{Dir: dir})
		AssertNil(late.Shutdown())

		err := late.Load()
		AssertTrue(errors.Is(err, ErrShutdown))
		AssertEqual(late.GetStatus(), StatusClosing)
		AssertEqual(len(late.List()), 0)

		err = late.loadFile("data")
		AssertTrue(errors.Is(err, ErrShutdown))
		AssertEqual(len(late.List()), 0)

		// the file was left unlocked
		other := New(&Config{Dir: dir})
		defer other.Shutdown()
		AssertNil(other.Load())
		AssertEqual(len(other.List()), 1)
	})
}

func TestCompact(t *testing.T) {
	Environment(func(db *Database, dir string) {

		h, _ := db.Open("data", "users", codec.String, codec.U32, 0, store.Create)
		for i := 0; i < 20; i++ {
			db.Put(h, "alice", i)
			db.Save()
		}

		before, _ := os.Stat(filepath.Join(dir, "data"))
		AssertNil(db.Compact(h))
		after, _ := os.Stat(filepath.Join(dir, "data"))
		AssertTrue(after.Size() < before.Size())

		value, _, _ := db.Get(h, "alice")
		AssertEqual(value, uint32(19))
	})
}
