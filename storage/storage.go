package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnknownEngine = errors.New("unknown engine")
	ErrCorrupt       = errors.New("corrupt storage")
	ErrNotExist      = errors.New("storage does not exist")
	ErrLocked        = errors.New("storage locked by another process")
	ErrReadOnly      = errors.New("storage is read only")
	ErrClosed        = errors.New("storage closed")
)

// Backend keeps the flushed state of every database stored under one
// path. A path can hold any number of named databases.
type Backend interface {
	// Meta returns nil, nil for a database that was never committed.
	Meta(db string) (*Meta, error)
	// Load calls f for every record of db. Order is not defined, use
	// Entry.Seq to restore insertion order.
	Load(db string, f func(e Entry) error) error
	// Commit applies ops atomically: after a crash either all of them
	// are visible or none.
	Commit(db string, meta *Meta, ops []Op) error
	// Databases lists the names of every committed database.
	Databases() ([]string, error)
	Close() error
}

// Compacter is implemented by backends that grow with every commit.
type Compacter interface {
	Compact() error
}

// Meta describes how a database was declared. It is checked on every
// open.
type Meta struct {
	Name      string `json:"name"`
	KeyKind   uint32 `json:"key_kind"`
	ValueKind uint32 `json:"value_kind"`
	KeySize   int    `json:"key_size,omitempty"`
	ValueSize int    `json:"value_size,omitempty"`
	Features  uint32 `json:"features"`
}

func (m *Meta) Equal(other *Meta) bool {
	if m == nil || other == nil {
		return m == other
	}
	return *m == *other
}

type Entry struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value,omitempty"`
	Seq   uint64 `json:"seq"`
}

type Op struct {
	Entry
	Delete bool `json:"delete,omitempty"`
}

const (
	EngineJournal = "journal"
	EngineBolt    = "bolt"
	EnginePebble  = "pebble"
	EngineMemory  = "memory"
)

type Options struct {
	Create   bool
	ReadOnly bool
}

// Open the backend for engine at path. The path must exist unless
// Options.Create is set, and always when opening read only.
func Open(engine, path string, options Options) (Backend, error) {

	engine = strings.ToLower(engine)
	if engine == "" {
		engine = EngineJournal
	}

	if engine != EngineMemory && (!options.Create || options.ReadOnly) {
		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("'%s': %w", path, ErrNotExist)
		}
		if err != nil {
			return nil, err
		}
	}

	switch engine {
	case EngineJournal:
		return OpenJournal(path, options.ReadOnly)
	case EngineBolt:
		return OpenBolt(path, options.ReadOnly)
	case EnginePebble:
		return OpenPebble(path, options.ReadOnly)
	case EngineMemory:
		return NewMemory(), nil
	}

	return nil, fmt.Errorf("'%s': %w", engine, ErrUnknownEngine)
}

// Detect guesses the engine that wrote path. Pebble keeps a directory
// and the journal is JSON lines. Any other file is taken as bolt.
func Detect(path string) (string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("'%s': %w", path, ErrNotExist)
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		_, err := os.Stat(filepath.Join(path, "CURRENT"))
		if err != nil {
			return "", fmt.Errorf("directory '%s': %w", path, ErrUnknownEngine)
		}
		return EnginePebble, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 1)
	n, _ := f.Read(head)
	if n == 0 || head[0] == '{' {
		return EngineJournal, nil
	}
	return EngineBolt, nil
}
