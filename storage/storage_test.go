package storage

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var engines = []string{EngineJournal, EngineBolt, EnginePebble}

func openTemp(t *testing.T, engine string) (Backend, string) {
	path := filepath.Join(t.TempDir(), "data")
	b, err := Open(engine, path, Options{Create: true})
	require.NoError(t, err)
	return b, path
}

func loadAll(t *testing.T, b Backend, db string) []Entry {
	entries := []Entry{}
	err := b.Load(db, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Seq < entries[j].Seq
	})
	return entries
}

func put(key, value string, seq uint64) Op {
	return Op{Entry: Entry{Key: []byte(key), Value: []byte(value), Seq: seq}}
}

func del(key string) Op {
	return Op{Entry: Entry{Key: []byte(key)}, Delete: true}
}

func TestBackend(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, engine string)
	}{
		{name: "commit_and_load", fn: testCommitAndLoad},
		{name: "meta", fn: testMeta},
		{name: "several_databases", fn: testSeveralDatabases},
		{name: "reopen", fn: testReopen},
		{name: "read_only", fn: testReadOnly},
		{name: "databases", fn: testDatabases},
	}

	for _, engine := range engines {
		for _, tc := range tests {
			t.Run(engine+"/"+tc.name, func(t *testing.T) {
				tc.fn(t, engine)
			})
		}
	}
}

func testCommitAndLoad(t *testing.T, engine string) {
	b, _ := openTemp(t, engine)
	defer b.Close() //nolint:errcheck

	err := b.Commit("users", nil, []Op{put("a", "1", 1), put("b", "2", 2), put("c", "3", 3)})
	require.NoError(t, err)

	err = b.Commit("users", nil, []Op{del("b"), put("a", "10", 1)})
	require.NoError(t, err)

	entries := loadAll(t, b, "users")
	require.Len(t, entries, 2)
	assert.Equal(t, []byte("a"), entries[0].Key)
	assert.Equal(t, []byte("10"), entries[0].Value)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, []byte("c"), entries[1].Key)
}

func testMeta(t *testing.T, engine string) {
	b, _ := openTemp(t, engine)
	defer b.Close() //nolint:errcheck

	meta, err := b.Meta("users")
	require.NoError(t, err)
	assert.Nil(t, meta)

	want := &Meta{KeyKind: 2, ValueKind: 3, Features: 8}
	require.NoError(t, b.Commit("users", want, nil))

	meta, err = b.Meta("users")
	require.NoError(t, err)
	assert.Equal(t, want, meta)
}

func testSeveralDatabases(t *testing.T, engine string) {
	b, _ := openTemp(t, engine)
	defer b.Close() //nolint:errcheck

	require.NoError(t, b.Commit("one", nil, []Op{put("k", "1", 1)}))
	require.NoError(t, b.Commit("two", nil, []Op{put("k", "2", 1), put("j", "3", 2)}))

	one := loadAll(t, b, "one")
	two := loadAll(t, b, "two")
	require.Len(t, one, 1)
	require.Len(t, two, 2)
	assert.Equal(t, []byte("1"), one[0].Value)
	assert.Equal(t, []byte("2"), two[0].Value)
	assert.Empty(t, loadAll(t, b, "three"))
}

func testReopen(t *testing.T, engine string) {
	b, path := openTemp(t, engine)

	meta := &Meta{KeyKind: 2, ValueKind: 2}
	require.NoError(t, b.Commit("users", meta, []Op{put("a", "1", 1)}))
	require.NoError(t, b.Close())

	b, err := Open(engine, path, Options{})
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck

	got, err := b.Meta("users")
	require.NoError(t, err)
	assert.Equal(t, meta, got)
	assert.Len(t, loadAll(t, b, "users"), 1)
}

func testReadOnly(t *testing.T, engine string) {
	b, path := openTemp(t, engine)
	require.NoError(t, b.Commit("users", &Meta{}, []Op{put("a", "1", 1)}))
	require.NoError(t, b.Close())

	b, err := Open(engine, path, Options{ReadOnly: true})
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck

	assert.Len(t, loadAll(t, b, "users"), 1)
	err = b.Commit("users", nil, []Op{put("b", "2", 2)})
	assert.Error(t, err)
}

func testDatabases(t *testing.T, engine string) {
	b, _ := openTemp(t, engine)
	defer b.Close() //nolint:errcheck

	require.NoError(t, b.Commit("zeta", &Meta{Name: "zeta"}, nil))
	require.NoError(t, b.Commit("alpha", &Meta{Name: "alpha"}, []Op{put("k", "v", 1)}))

	names, err := b.Databases()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names)
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open("leveldb", filepath.Join(dir, "x"), Options{Create: true})
	assert.ErrorIs(t, err, ErrUnknownEngine)

	_, err = Open(EngineJournal, filepath.Join(dir, "missing"), Options{})
	assert.ErrorIs(t, err, ErrNotExist)

	_, err = Open(EngineBolt, filepath.Join(dir, "missing"), Options{Create: true, ReadOnly: true})
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestDetect(t *testing.T) {
	for _, engine := range engines {
		b, path := openTemp(t, engine)
		require.NoError(t, b.Commit("x", &Meta{Name: "x"}, []Op{put("a", "1", 1)}))
		require.NoError(t, b.Close())

		detected, err := Detect(path)
		require.NoError(t, err)
		assert.Equal(t, engine, detected)
	}

	_, err := Detect(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestMemory(t *testing.T) {
	b, err := Open(EngineMemory, "", Options{})
	require.NoError(t, err)

	require.NoError(t, b.Commit("x", &Meta{KeyKind: 1}, []Op{put("a", "1", 1), put("b", "2", 2), del("a")}))
	entries := loadAll(t, b, "x")
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("b"), entries[0].Key)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Commit("x", nil, nil), ErrClosed)
}

func TestJournal_Locked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")

	j, err := OpenJournal(path, false)
	require.NoError(t, err)
	defer j.Close() //nolint:errcheck

	_, err = OpenJournal(path, false)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestJournal_InterruptedCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")

	j, err := OpenJournal(path, false)
	require.NoError(t, err)
	require.NoError(t, j.Commit("users", &Meta{}, []Op{put("a", "1", 1)}))
	require.NoError(t, j.Close())

	// a put without commit marker, then half a line
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0666)
	require.NoError(t, err)
	require.NoError(t, writeCommand(f, CommandPut, "users", Entry{Key: []byte("b"), Value: []byte("2"), Seq: 2}))
	_, err = f.WriteString(`{"name":"put","uu`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = OpenJournal(path, false)
	require.NoError(t, err)
	defer j.Close() //nolint:errcheck

	entries := loadAll(t, j, "users")
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("a"), entries[0].Key)

	// the tail is gone, new commits land on a clean line
	require.NoError(t, j.Commit("users", nil, []Op{put("c", "3", 3)}))
	assert.Len(t, loadAll(t, j, "users"), 2)
}

func TestJournal_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")

	j, err := OpenJournal(path, false)
	require.NoError(t, err)
	require.NoError(t, j.Commit("users", &Meta{}, []Op{put("a", "1", 1)}))
	require.NoError(t, j.Commit("users", nil, []Op{put("b", "2", 2)}))
	require.NoError(t, j.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	content[3] = '#' // damage the first line
	require.NoError(t, os.WriteFile(path, content, 0666))

	_, err = OpenJournal(path, false)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestJournal_Compact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")

	j, err := OpenJournal(path, false)
	require.NoError(t, err)
	defer j.Close() //nolint:errcheck

	meta := &Meta{KeyKind: 2, ValueKind: 2}
	for i := 0; i < 50; i++ {
		require.NoError(t, j.Commit("users", meta, []Op{put("a", "v", 1)}))
	}
	require.NoError(t, j.Commit("other", meta, []Op{put("x", "y", 1)}))

	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, j.Compact())

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size())

	assert.Len(t, loadAll(t, j, "users"), 1)
	assert.Len(t, loadAll(t, j, "other"), 1)

	got, err := j.Meta("users")
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	require.NoError(t, j.Commit("users", nil, []Op{put("b", "w", 2)}))
	assert.Len(t, loadAll(t, j, "users"), 2)
}
