package store

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fulldump/qmapdb/codec"
	"github.com/fulldump/qmapdb/storage"
)

var (
	ErrClosed         = errors.New("store closed")
	ErrReadOnly       = errors.New("store is read only")
	ErrCorrupt        = storage.ErrCorrupt
	ErrUnknownKind    = codec.ErrUnknownKind
	ErrUnknownFeature = errors.New("unknown feature")
	ErrNotAppendable  = errors.New("store does not support append")
	ErrNoIndex        = errors.New("index not enabled")
	ErrFull           = errors.New("no free position")
	ErrCursorClosed   = errors.New("cursor closed")
	ErrAssoc          = errors.New("invalid association")
)

type Options struct {
	Name      string
	KeyKind   codec.Kind
	ValueKind codec.Kind
	Features  Features
	Flags     OpenFlags
	Kinds     *codec.Registry // nil allows builtin kinds only
}

// Stats are counters for one open store. Reads counts lookups that
// reached the records instead of being served by the mirror.
type Stats struct {
	Records     int    `json:"records"`
	Pending     int    `json:"pending"`
	Mirrored    int    `json:"mirrored"`
	Cursors     int    `json:"cursors"`
	Reads       uint64 `json:"reads"`
	MirrorHits  uint64 `json:"mirror_hits"`
	MirrorFills uint64 `json:"mirror_fills"`
}

// Store holds the live records of one database. Mutations are kept
// pending until Flush commits them to the backend.
type Store struct {
	Name      string
	KeyKind   codec.Kind
	ValueKind codec.Kind
	Features  Features
	Flags     OpenFlags

	kinds     *codec.Registry
	backend   storage.Backend
	mutex     *sync.RWMutex
	rows      map[string]*Record
	indexes   map[string]Index
	array     *IndexArray
	sorted    *IndexSorted
	mirror    *mirror
	pending   map[string]*storage.Op
	committed bool
	nextSeq   uint64
	nextPos   uint64
	closed    atomic.Bool

	cursors   map[*Cursor]struct{}
	assocs    []*association
	primaries []*Store

	reads       atomic.Uint64
	mirrorHits  atomic.Uint64
	mirrorFills atomic.Uint64
}

// Open loads the database options.Name from backend. The stored
// declaration must match the requested one, otherwise the data is
// considered corrupt and nothing is loaded.
func Open(backend storage.Backend, options Options) (*Store, error) {

	if !options.Kinds.Valid(options.KeyKind) {
		return nil, fmt.Errorf("key kind %s: %w", options.KeyKind, ErrUnknownKind)
	}
	if !options.Kinds.Valid(options.ValueKind) {
		return nil, fmt.Errorf("value kind %s: %w", options.ValueKind, ErrUnknownKind)
	}
	if options.Features&^allFeatures != 0 {
		return nil, fmt.Errorf("features %#x: %w", uint32(options.Features), ErrUnknownFeature)
	}

	s := &Store{
		Name:      options.Name,
		KeyKind:   options.KeyKind,
		ValueKind: options.ValueKind,
		Features:  options.Features,
		Flags:     options.Flags,
		kinds:     options.Kinds,
		backend:   backend,
		mutex:     &sync.RWMutex{},
		rows:      map[string]*Record{},
		indexes:   map[string]Index{},
		pending:   map[string]*storage.Op{},
		cursors:   map[*Cursor]struct{}{},
	}

	if s.Features.Has(ArrayIndex) {
		s.array = NewIndexArray()
		s.indexes[s.array.GetType()] = s.array
	}
	if s.Features.Has(Sorted) {
		s.sorted = NewIndexSorted()
		s.indexes[s.sorted.GetType()] = s.sorted
	}
	if s.Features.Has(Mirror) {
		s.mirror = newMirror()
	}

	if s.Flags.Has(Truncate) {
		if s.Flags.Has(ReadOnly) {
			return nil, fmt.Errorf("truncate '%s': %w", s.Name, ErrReadOnly)
		}
		return s, s.truncate()
	}

	stored, err := backend.Meta(s.Name)
	if err != nil {
		return nil, fmt.Errorf("meta of '%s': %w", s.Name, err)
	}
	if stored != nil {
		if !stored.Equal(s.meta()) {
			return nil, fmt.Errorf("'%s' stored as %s, opened as %s: %w",
				s.Name, describeMeta(stored), describeMeta(s.meta()), ErrCorrupt)
		}
		s.committed = true
	}

	err = s.load()
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) meta() *storage.Meta {
	keySize, _ := s.kinds.Size(s.KeyKind)
	valueSize, _ := s.kinds.Size(s.ValueKind)
	return &storage.Meta{
		Name:      s.Name,
		KeyKind:   uint32(s.KeyKind),
		ValueKind: uint32(s.ValueKind),
		KeySize:   keySize,
		ValueSize: valueSize,
		Features:  uint32(s.Features),
	}
}

func describeMeta(m *storage.Meta) string {
	return fmt.Sprintf("(%s, %s, %s)", codec.Kind(m.KeyKind), codec.Kind(m.ValueKind), Features(m.Features))
}

func (s *Store) load() error {

	entries := []storage.Entry{}
	err := s.backend.Load(s.Name, func(e storage.Entry) error {
		if err := s.kinds.Check(s.KeyKind, e.Key); err != nil {
			return fmt.Errorf("'%s' key %x: %w: %w", s.Name, e.Key, ErrCorrupt, err)
		}
		if err := s.kinds.Check(s.ValueKind, e.Value); err != nil {
			return fmt.Errorf("'%s' value of %x: %w: %w", s.Name, e.Key, ErrCorrupt, err)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load '%s': %w", s.Name, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Seq < entries[j].Seq
	})

	for _, e := range entries {
		if _, exists := s.rows[string(e.Key)]; exists {
			return fmt.Errorf("'%s' duplicated key %x: %w", s.Name, e.Key, ErrCorrupt)
		}
		r := &Record{Key: e.Key, Value: e.Value, Seq: e.Seq}
		err := indexInsert(s.indexes, r, nil)
		if err != nil {
			return fmt.Errorf("'%s': %w: %w", s.Name, ErrCorrupt, err)
		}
		s.rows[string(e.Key)] = r
		if e.Seq >= s.nextSeq {
			s.nextSeq = e.Seq + 1
		}
	}

	return nil
}

// truncate schedules the removal of every stored record.
func (s *Store) truncate() error {
	return s.backend.Load(s.Name, func(e storage.Entry) error {
		s.pending[string(e.Key)] = &storage.Op{Entry: storage.Entry{Key: e.Key, Seq: e.Seq}, Delete: true}
		return nil
	})
}

func (s *Store) check(key, value []byte) error {
	if err := s.kinds.Check(s.KeyKind, key); err != nil {
		return fmt.Errorf("key: %w", err)
	}
	if value == nil {
		return nil
	}
	if err := s.kinds.Check(s.ValueKind, value); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	return nil
}

func (s *Store) writable() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.Flags.Has(ReadOnly) {
		return ErrReadOnly
	}
	return nil
}

func (s *Store) pend(op storage.Op) {
	s.pending[string(op.Key)] = &op
}

// Get returns a copy of the value stored under key. A missing key is
// not an error.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed.Load() {
		return nil, false, ErrClosed
	}

	if s.mirror != nil {
		if value, ok := s.mirror.get(key); ok {
			s.mirrorHits.Add(1)
			return bytes.Clone(value), true, nil
		}
	}

	s.reads.Add(1)
	r, ok := s.rows[string(key)]
	if !ok {
		return nil, false, nil
	}

	if s.mirror != nil && s.Features.Has(PopulateOnGet) {
		s.mirror.set(r.Key, r.Value)
		s.mirrorFills.Add(1)
	}

	return bytes.Clone(r.Value), true, nil
}

// Prefetch copies the record under key into the mirror. It reports
// false when the store has no mirror or the key is missing.
func (s *Store) Prefetch(key []byte) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed.Load() {
		return false, ErrClosed
	}
	if s.mirror == nil {
		return false, nil
	}

	s.reads.Add(1)
	r, ok := s.rows[string(key)]
	if !ok {
		return false, nil
	}
	s.mirror.set(r.Key, r.Value)
	s.mirrorFills.Add(1)
	return true, nil
}

// Cached reports whether key has a mirror entry.
func (s *Store) Cached(key []byte) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed.Load() {
		return false, ErrClosed
	}
	if s.mirror == nil {
		return false, nil
	}
	_, ok := s.mirror.get(key)
	return ok, nil
}

// Put inserts or replaces the record for key. It reports true when the
// key was not present.
func (s *Store) Put(key, value []byte) (bool, error) {
	if value == nil {
		value = []byte{}
	}
	err := s.check(key, value)
	if err != nil {
		return false, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.writable(); err != nil {
		return false, err
	}

	return s.put(key, value)
}

func (s *Store) put(key, value []byte) (bool, error) {

	old := s.rows[string(key)]
	r := &Record{
		Key:   bytes.Clone(key),
		Value: bytes.Clone(value),
	}
	if old != nil {
		r.Seq = old.Seq
	} else {
		r.Seq = s.nextSeq
	}

	derived, err := s.derive(r)
	if err != nil {
		return false, err
	}

	err = indexInsert(s.indexes, r, old)
	if err != nil {
		return false, err
	}
	if old == nil {
		s.nextSeq++
	}
	s.rows[string(key)] = r
	if s.mirror != nil {
		s.mirror.evict(key)
	}
	s.pend(storage.Op{Entry: storage.Entry{Key: r.Key, Value: r.Value, Seq: r.Seq}})
	s.propagate(old, derived)

	return old == nil, nil
}

// Append stores value under the next free position. The store needs the
// array index and an integer key kind.
func (s *Store) Append(value []byte) ([]byte, error) {
	if !s.Features.Has(ArrayIndex) || (s.KeyKind != codec.Handle && s.KeyKind != codec.U32) {
		return nil, ErrNotAppendable
	}
	if err := s.kinds.Check(s.ValueKind, value); err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.writable(); err != nil {
		return nil, err
	}

	for {
		key, err := codec.Encode(s.KeyKind, s.nextPos)
		if err != nil {
			return nil, fmt.Errorf("append to '%s': %w", s.Name, ErrFull)
		}
		s.nextPos++
		if _, exists := s.rows[string(key)]; exists {
			continue
		}
		_, err = s.put(key, value)
		if err != nil {
			return nil, err
		}
		return key, nil
	}
}

// Delete removes key. A missing key is a no-op reported as false.
func (s *Store) Delete(key []byte) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.writable(); err != nil {
		return false, err
	}

	return s.delete(key)
}

func (s *Store) delete(key []byte) (bool, error) {
	old, ok := s.rows[string(key)]
	if !ok {
		return false, nil
	}

	err := indexRemove(s.indexes, old)
	if err != nil {
		return false, err
	}
	delete(s.rows, string(key))
	if s.mirror != nil {
		s.mirror.evict(key)
	}
	s.pend(storage.Op{Entry: storage.Entry{Key: old.Key, Seq: old.Seq}, Delete: true})
	s.propagate(old, nil)

	return true, nil
}

// At returns the record at insertion position pos.
func (s *Store) At(pos int) ([]byte, []byte, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed.Load() {
		return nil, nil, false, ErrClosed
	}
	if s.array == nil {
		return nil, nil, false, fmt.Errorf("array: %w", ErrNoIndex)
	}

	r, ok := s.array.At(pos)
	if !ok {
		return nil, nil, false, nil
	}
	return bytes.Clone(r.Key), bytes.Clone(r.Value), true, nil
}

func (s *Store) Len() (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed.Load() {
		return 0, ErrClosed
	}
	return len(s.rows), nil
}

func (s *Store) Stats() (Stats, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed.Load() {
		return Stats{}, ErrClosed
	}

	stats := Stats{
		Records:     len(s.rows),
		Pending:     len(s.pending),
		Cursors:     len(s.cursors),
		Reads:       s.reads.Load(),
		MirrorHits:  s.mirrorHits.Load(),
		MirrorFills: s.mirrorFills.Load(),
	}
	if s.mirror != nil {
		stats.Mirrored = s.mirror.len()
	}
	return stats, nil
}

func (s *Store) Closed() bool {
	return s.closed.Load()
}

// Flush commits pending mutations to the backend.
func (s *Store) Flush() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	return s.flush()
}

func (s *Store) flush() error {
	if s.Flags.Has(ReadOnly) {
		return nil
	}
	if len(s.pending) == 0 && s.committed {
		return nil
	}

	ops := make([]storage.Op, 0, len(s.pending))
	for _, op := range s.pending {
		ops = append(ops, *op)
	}
	sort.Slice(ops, func(i, j int) bool {
		return bytes.Compare(ops[i].Key, ops[j].Key) < 0
	})

	err := s.backend.Commit(s.Name, s.meta(), ops)
	if err != nil {
		return fmt.Errorf("flush '%s': %w", s.Name, err)
	}
	s.pending = map[string]*storage.Op{}
	s.committed = true

	return nil
}

// Close flushes and releases the store. If the flush fails the store
// stays open.
func (s *Store) Close() error {
	s.mutex.Lock()
	if s.closed.Load() {
		s.mutex.Unlock()
		return ErrClosed
	}
	err := s.flush()
	if err != nil {
		s.mutex.Unlock()
		return err
	}
	cursors, assocs, primaries := s.release()
	s.mutex.Unlock()

	s.detach(cursors, assocs, primaries)
	return nil
}

// Drop releases the store discarding everything not flushed yet.
func (s *Store) Drop() error {
	s.mutex.Lock()
	if s.closed.Load() {
		s.mutex.Unlock()
		return ErrClosed
	}
	s.pending = nil
	cursors, assocs, primaries := s.release()
	s.mutex.Unlock()

	s.detach(cursors, assocs, primaries)
	return nil
}

func (s *Store) release() ([]*Cursor, []*association, []*Store) {
	s.closed.Store(true)

	cursors := make([]*Cursor, 0, len(s.cursors))
	for c := range s.cursors {
		cursors = append(cursors, c)
	}
	assocs, primaries := s.assocs, s.primaries

	s.cursors = nil
	s.assocs = nil
	s.primaries = nil
	s.rows = nil
	s.indexes = nil
	s.array = nil
	s.sorted = nil
	s.mirror = nil

	return cursors, assocs, primaries
}

// detach runs without the store lock: the other side takes its own.
func (s *Store) detach(cursors []*Cursor, assocs []*association, primaries []*Store) {
	for _, c := range cursors {
		c.release()
	}
	for _, a := range assocs {
		a.secondary.forgetPrimary(s)
	}
	for _, p := range primaries {
		p.dissociate(s)
	}
}
