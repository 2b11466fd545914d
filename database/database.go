package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fulldump/qmapdb/codec"
	"github.com/fulldump/qmapdb/logger"
	"github.com/fulldump/qmapdb/storage"
	"github.com/fulldump/qmapdb/store"
)

const (
	StatusOpening   = "opening"
	StatusOperating = "operating"
	StatusClosing   = "closing"
)

// Handle identifies an open store or cursor. Handles are never reused.
type Handle uint32

const InvalidHandle Handle = codec.Miss

type AssocMode int

const (
	AssocReverse AssocMode = iota
)

var (
	ErrInvalidHandle    = errors.New("invalid handle")
	ErrOpen             = errors.New("open failed")
	ErrAlreadyOpen      = errors.New("store already open")
	ErrShutdown         = errors.New("database is shutting down")
	ErrHandlesExhausted = errors.New("handles exhausted")
	ErrUnknownAssoc     = errors.New("unknown association mode")

	ErrUnknownKind   = codec.ErrUnknownKind
	ErrCorrupt       = store.ErrCorrupt
	ErrReadOnly      = store.ErrReadOnly
	ErrNotAppendable = store.ErrNotAppendable
)

type Config struct {
	Dir          string
	Engine       string        // used for files that do not exist yet
	ReadOnly     bool          // every store is opened read only
	SaveInterval time.Duration // 0 disables the periodic save
}

// Info describes an open store.
type Info struct {
	Handle    Handle `json:"handle"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	KeyKind   string `json:"key_kind"`
	ValueKind string `json:"value_kind"`
	Features  string `json:"features"`
	ReadOnly  bool   `json:"read_only"`
	Records   int    `json:"records"`
}

type entry struct {
	handle  Handle
	path    string
	file    *file
	store   *store.Store
	cursors map[Handle]struct{}
}

type cursorEntry struct {
	owner  Handle
	cursor *store.Cursor
}

// file is a backend shared by every store opened on the same path.
type file struct {
	path     string
	backend  storage.Backend
	readOnly bool
	refs     int
}

// Database is the handle table. Every store and cursor in use is
// reachable through a Handle.
type Database struct {
	config  *Config
	status  string
	mutex   *sync.RWMutex
	kinds   *codec.Registry
	last    Handle
	stores  map[Handle]*entry
	cursors map[Handle]*cursorEntry
	files   map[string]*file
	exit    chan struct{}
	stopped sync.Once
}

func New(config *Config) *Database {
	return &Database{
		config:  config,
		status:  StatusOpening,
		mutex:   &sync.RWMutex{},
		kinds:   codec.NewRegistry(),
		stores:  map[Handle]*entry{},
		cursors: map[Handle]*cursorEntry{},
		files:   map[string]*file{},
		exit:    make(chan struct{}),
	}
}

func (db *Database) GetStatus() string {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.status
}

func (db *Database) setStatus(status string) {
	db.mutex.Lock()
	db.status = status
	db.mutex.Unlock()
}

// operate moves an opening database to operating. A database that
// started closing stays closed.
func (db *Database) operate() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if db.status == StatusClosing {
		return ErrShutdown
	}
	db.status = StatusOperating
	return nil
}

func (db *Database) allocate() (Handle, error) {
	if db.last+1 == InvalidHandle {
		return InvalidHandle, ErrHandlesExhausted
	}
	db.last++
	return db.last, nil
}

func (db *Database) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(db.config.Dir, path)
}

// Open returns a handle to the store name inside path. A relative path
// lives under Config.Dir and an empty one is an anonymous in-memory
// store.
func (db *Database) Open(path, name string, key, value codec.Kind, features store.Features, flags store.OpenFlags) (Handle, error) {

	db.mutex.Lock()
	defer db.mutex.Unlock()

	if db.status == StatusClosing {
		return InvalidHandle, ErrShutdown
	}

	h, err := db.open(db.resolve(path), name, key, value, features, flags)
	if err != nil {
		logger.Database.Warn().Err(err).Str("path", path).Str("store", name).Msg("open")
		return InvalidHandle, err
	}

	logger.Database.Debug().Uint32("handle", uint32(h)).Str("path", path).Str("store", name).Msg("open")
	return h, nil
}

func (db *Database) open(filename, name string, key, value codec.Kind, features store.Features, flags store.OpenFlags) (Handle, error) {

	if !db.kinds.Valid(key) || !db.kinds.Valid(value) {
		return InvalidHandle, fmt.Errorf("open '%s' (%s, %s): %w: %w", name, key, value, ErrOpen, ErrUnknownKind)
	}
	if db.config.ReadOnly {
		flags |= store.ReadOnly
	}

	if filename != "" {
		for _, e := range db.stores {
			if e.path == filename && e.store.Name == name {
				return InvalidHandle, fmt.Errorf("'%s' in '%s': %w", name, filename, ErrAlreadyOpen)
			}
		}
	}

	f, err := db.acquire(filename, flags)
	if err != nil {
		return InvalidHandle, fmt.Errorf("open '%s' in '%s': %w: %w", name, filename, ErrOpen, err)
	}

	s, err := store.Open(f.backend, store.Options{
		Name:      name,
		KeyKind:   key,
		ValueKind: value,
		Features:  features,
		Flags:     flags,
		Kinds:     db.kinds,
	})
	if err != nil {
		db.release(f)
		return InvalidHandle, fmt.Errorf("open '%s' in '%s': %w: %w", name, filename, ErrOpen, err)
	}

	h, err := db.allocate()
	if err != nil {
		s.Drop()
		db.release(f)
		return InvalidHandle, err
	}

	db.stores[h] = &entry{
		handle:  h,
		path:    filename,
		file:    f,
		store:   s,
		cursors: map[Handle]struct{}{},
	}
	return h, nil
}

func (db *Database) acquire(filename string, flags store.OpenFlags) (*file, error) {

	readOnly := flags.Has(store.ReadOnly)

	if filename == "" {
		return &file{backend: storage.NewMemory(), readOnly: readOnly, refs: 1}, nil
	}

	if f, ok := db.files[filename]; ok {
		if f.readOnly && !readOnly {
			return nil, fmt.Errorf("'%s' is open read only: %w", filename, ErrReadOnly)
		}
		f.refs++
		return f, nil
	}

	engine, err := storage.Detect(filename)
	if errors.Is(err, storage.ErrNotExist) && flags.Has(store.Create) && !readOnly {
		engine = db.config.Engine
		err = os.MkdirAll(filepath.Dir(filename), 0755)
	}
	if err != nil {
		return nil, err
	}

	backend, err := storage.Open(engine, filename, storage.Options{
		Create:   flags.Has(store.Create),
		ReadOnly: readOnly,
	})
	if err != nil {
		return nil, err
	}

	f := &file{
		path:     filename,
		backend:  backend,
		readOnly: readOnly,
		refs:     1,
	}
	db.files[filename] = f
	return f, nil
}

func (db *Database) release(f *file) {
	f.refs--
	if f.refs > 0 {
		return
	}
	delete(db.files, f.path)
	err := f.backend.Close()
	if err != nil {
		logger.Database.Error().Err(err).Str("path", f.path).Msg("close backend")
	}
}

func (db *Database) entry(h Handle) (*entry, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	e, ok := db.stores[h]
	if !ok {
		return nil, fmt.Errorf("store %d: %w", h, ErrInvalidHandle)
	}
	return e, nil
}

// forget removes h and the cursors it owns from the table. The caller
// holds the lock.
func (db *Database) forget(e *entry) {
	for c := range e.cursors {
		delete(db.cursors, c)
	}
	delete(db.stores, e.handle)
	db.release(e.file)
}

// Close flushes the store and invalidates h together with its cursors.
// If the flush fails h stays valid.
func (db *Database) Close(h Handle) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	e, ok := db.stores[h]
	if !ok {
		return fmt.Errorf("close %d: %w", h, ErrInvalidHandle)
	}

	err := e.store.Close()
	if err != nil {
		return fmt.Errorf("close %d: %w", h, err)
	}
	db.forget(e)

	logger.Database.Debug().Uint32("handle", uint32(h)).Str("store", e.store.Name).Msg("close")
	return nil
}

// Drop invalidates h discarding everything not saved yet.
func (db *Database) Drop(h Handle) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	e, ok := db.stores[h]
	if !ok {
		return fmt.Errorf("drop %d: %w", h, ErrInvalidHandle)
	}

	err := e.store.Drop()
	if err != nil {
		return fmt.Errorf("drop %d: %w", h, err)
	}
	db.forget(e)

	logger.Database.Debug().Uint32("handle", uint32(h)).Str("store", e.store.Name).Msg("drop")
	return nil
}

// Save flushes every open store. It keeps going after a failure and
// returns all of them joined.
func (db *Database) Save() error {
	db.mutex.RLock()
	entries := make([]*entry, 0, len(db.stores))
	for _, e := range db.stores {
		entries = append(entries, e)
	}
	db.mutex.RUnlock()

	var errs []error
	for _, e := range entries {
		err := e.store.Flush()
		if errors.Is(err, store.ErrClosed) {
			continue
		}
		if err != nil {
			logger.Database.Error().Err(err).Str("store", e.store.Name).Msg("save")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Compact flushes h and rewrites its backend when the engine supports
// it.
func (db *Database) Compact(h Handle) error {
	e, err := db.entry(h)
	if err != nil {
		return err
	}
	err = e.store.Flush()
	if err != nil {
		return handleErr(h, err)
	}
	compacter, ok := e.file.backend.(storage.Compacter)
	if !ok {
		return nil
	}
	return compacter.Compact()
}

// handleErr reports a store closed behind our back as a stale handle.
func handleErr(h Handle, err error) error {
	if errors.Is(err, store.ErrClosed) || errors.Is(err, store.ErrCursorClosed) {
		return fmt.Errorf("%d: %w", h, ErrInvalidHandle)
	}
	return err
}

func (db *Database) encodeKey(s *store.Store, key any) ([]byte, error) {
	b, err := db.kinds.Encode(s.KeyKind, key)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	return b, nil
}

func (db *Database) encodeValue(s *store.Store, value any) ([]byte, error) {
	b, err := db.kinds.Encode(s.ValueKind, value)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	return b, nil
}

func (db *Database) decode(s *store.Store, key, value []byte) (any, any, error) {
	k, err := db.kinds.Decode(s.KeyKind, key)
	if err != nil {
		return nil, nil, fmt.Errorf("key: %w", err)
	}
	v, err := db.kinds.Decode(s.ValueKind, value)
	if err != nil {
		return nil, nil, fmt.Errorf("value: %w", err)
	}
	return k, v, nil
}

// Get looks key up. A missing key reports found false and no error.
func (db *Database) Get(h Handle, key any) (value any, found bool, err error) {
	e, err := db.entry(h)
	if err != nil {
		return nil, false, err
	}
	k, err := db.encodeKey(e.store, key)
	if err != nil {
		return nil, false, err
	}
	raw, found, err := e.store.Get(k)
	if err != nil {
		return nil, false, handleErr(h, err)
	}
	if !found {
		return nil, false, nil
	}
	value, err = db.kinds.Decode(e.store.ValueKind, raw)
	if err != nil {
		return nil, false, fmt.Errorf("value: %w", err)
	}
	return value, true, nil
}

func (db *Database) Put(h Handle, key, value any) (inserted bool, err error) {
	e, err := db.entry(h)
	if err != nil {
		return false, err
	}
	k, err := db.encodeKey(e.store, key)
	if err != nil {
		return false, err
	}
	v, err := db.encodeValue(e.store, value)
	if err != nil {
		return false, err
	}
	inserted, err = e.store.Put(k, v)
	return inserted, handleErr(h, err)
}

// Append stores value under the next free position and returns it.
func (db *Database) Append(h Handle, value any) (key any, err error) {
	e, err := db.entry(h)
	if err != nil {
		return nil, err
	}
	v, err := db.encodeValue(e.store, value)
	if err != nil {
		return nil, err
	}
	k, err := e.store.Append(v)
	if err != nil {
		return nil, handleErr(h, err)
	}
	return db.kinds.Decode(e.store.KeyKind, k)
}

// Del removes key. Deleting a missing key is not an error.
func (db *Database) Del(h Handle, key any) (found bool, err error) {
	e, err := db.entry(h)
	if err != nil {
		return false, err
	}
	k, err := db.encodeKey(e.store, key)
	if err != nil {
		return false, err
	}
	found, err = e.store.Delete(k)
	return found, handleErr(h, err)
}

func (db *Database) Prefetch(h Handle, key any) (bool, error) {
	e, err := db.entry(h)
	if err != nil {
		return false, err
	}
	k, err := db.encodeKey(e.store, key)
	if err != nil {
		return false, err
	}
	ok, err := e.store.Prefetch(k)
	return ok, handleErr(h, err)
}

// At returns the record at insertion position pos of an array indexed
// store.
func (db *Database) At(h Handle, pos int) (key, value any, found bool, err error) {
	e, err := db.entry(h)
	if err != nil {
		return nil, nil, false, err
	}
	k, v, found, err := e.store.At(pos)
	if err != nil || !found {
		return nil, nil, false, handleErr(h, err)
	}
	key, value, err = db.decode(e.store, k, v)
	return key, value, err == nil, err
}

func (db *Database) Len(h Handle) (int, error) {
	e, err := db.entry(h)
	if err != nil {
		return 0, err
	}
	n, err := e.store.Len()
	return n, handleErr(h, err)
}

func (db *Database) Stats(h Handle) (store.Stats, error) {
	e, err := db.entry(h)
	if err != nil {
		return store.Stats{}, err
	}
	stats, err := e.store.Stats()
	return stats, handleErr(h, err)
}

// Cached reports whether key is held by the mirror of h.
func (db *Database) Cached(h Handle, key any) (bool, error) {
	e, err := db.entry(h)
	if err != nil {
		return false, err
	}
	k, err := db.encodeKey(e.store, key)
	if err != nil {
		return false, err
	}
	cached, err := e.store.Cached(k)
	return cached, handleErr(h, err)
}

// Assoc keeps secondary in sync with every mutation of primary.
func (db *Database) Assoc(secondary, primary Handle, mode AssocMode) error {
	if mode != AssocReverse {
		return fmt.Errorf("mode %d: %w", mode, ErrUnknownAssoc)
	}

	s, err := db.entry(secondary)
	if err != nil {
		return err
	}
	p, err := db.entry(primary)
	if err != nil {
		return err
	}

	if s.store.KeyKind != p.store.ValueKind || s.store.ValueKind != p.store.KeyKind {
		return fmt.Errorf("reverse of (%s, %s) into (%s, %s): %w",
			p.store.KeyKind, p.store.ValueKind, s.store.KeyKind, s.store.ValueKind, store.ErrAssoc)
	}

	return handleErr(primary, p.store.Associate(s.store, store.Reverse))
}

// Iter creates a cursor over h. The cursor handle is released by Fin or
// when its store is closed.
func (db *Database) Iter(h Handle, start any, flags store.IterFlags) (Handle, error) {

	db.mutex.Lock()
	defer db.mutex.Unlock()

	e, ok := db.stores[h]
	if !ok {
		return InvalidHandle, fmt.Errorf("iterate %d: %w", h, ErrInvalidHandle)
	}

	var from []byte
	if start != nil {
		var err error
		from, err = db.encodeKey(e.store, start)
		if err != nil {
			return InvalidHandle, err
		}
	}

	c, err := db.allocate()
	if err != nil {
		return InvalidHandle, err
	}

	cursor, err := e.store.Iterate(from, flags)
	if err != nil {
		return InvalidHandle, handleErr(h, err)
	}

	e.cursors[c] = struct{}{}
	db.cursors[c] = &cursorEntry{owner: h, cursor: cursor}
	return c, nil
}

// Next returns the following record of cursor c. ok is false at the
// end, and stays false on every later call.
func (db *Database) Next(c Handle) (key, value any, ok bool, err error) {
	db.mutex.RLock()
	ce, exists := db.cursors[c]
	db.mutex.RUnlock()
	if !exists {
		return nil, nil, false, fmt.Errorf("cursor %d: %w", c, ErrInvalidHandle)
	}

	k, v, ok, err := ce.cursor.Next()
	if err != nil || !ok {
		return nil, nil, false, handleErr(c, err)
	}

	key, value, err = db.decode(ce.cursor.Store(), k, v)
	if err != nil {
		return nil, nil, false, err
	}
	return key, value, true, nil
}

// Fin releases cursor c.
func (db *Database) Fin(c Handle) error {
	db.mutex.Lock()
	ce, exists := db.cursors[c]
	if exists {
		delete(db.cursors, c)
		if owner, ok := db.stores[ce.owner]; ok {
			delete(owner.cursors, c)
		}
	}
	db.mutex.Unlock()

	if !exists {
		return fmt.Errorf("cursor %d: %w", c, ErrInvalidHandle)
	}
	return handleErr(c, ce.cursor.Close())
}

// Reg registers a fixed-size kind usable by stores of this database.
func (db *Database) Reg(size int) (codec.Kind, error) {
	return db.kinds.Reg(size)
}

// Lookup finds the handle of an open store.
func (db *Database) Lookup(path, name string) (Handle, bool) {
	filename := db.resolve(path)

	db.mutex.RLock()
	defer db.mutex.RUnlock()

	for h, e := range db.stores {
		if filename != "" && e.path == filename && e.store.Name == name {
			return h, true
		}
	}
	return InvalidHandle, false
}

func (db *Database) Info(h Handle) (Info, error) {
	e, err := db.entry(h)
	if err != nil {
		return Info{}, err
	}
	return db.info(e), nil
}

func (db *Database) info(e *entry) Info {
	records, _ := e.store.Len()
	path := e.path
	if rel, err := filepath.Rel(db.config.Dir, e.path); err == nil && !strings.HasPrefix(rel, "..") {
		path = rel
	}
	return Info{
		Handle:    e.handle,
		Path:      path,
		Name:      e.store.Name,
		KeyKind:   e.store.KeyKind.String(),
		ValueKind: e.store.ValueKind.String(),
		Features:  e.store.Features.String(),
		ReadOnly:  e.store.Flags.Has(store.ReadOnly),
		Records:   records,
	}
}

// List describes every open store ordered by handle.
func (db *Database) List() []Info {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	result := make([]Info, 0, len(db.stores))
	for _, e := range db.stores {
		result = append(result, db.info(e))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Handle < result[j].Handle
	})
	return result
}

// Load opens every store found under Config.Dir with the declaration
// it was saved with.
func (db *Database) Load() error {

	if db.GetStatus() == StatusClosing {
		return ErrShutdown
	}

	dir := db.config.Dir
	logger.Database.Info().Str("dir", dir).Msg("loading database")

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		db.setStatus(StatusClosing)
		return err
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		db.setStatus(StatusClosing)
		return err
	}

	for _, f := range files {
		name := f.Name()
		if strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".compact") || strings.HasPrefix(name, ".") {
			continue
		}
		err := db.loadFile(name)
		if errors.Is(err, ErrShutdown) {
			logger.Database.Warn().Str("path", name).Msg("load interrupted by shutdown")
			return err
		}
		if err != nil {
			logger.Database.Error().Err(err).Str("path", name).Msg("load")
			db.setStatus(StatusClosing)
			return err
		}
	}

	return db.operate()
}

func (db *Database) loadFile(path string) error {
	filename := db.resolve(path)
	flags := store.OpenFlags(0)
	if db.config.ReadOnly {
		flags |= store.ReadOnly
	}

	engine, err := storage.Detect(filename)
	if err != nil {
		return err
	}
	backend, err := storage.Open(engine, filename, storage.Options{ReadOnly: db.config.ReadOnly})
	if err != nil {
		return err
	}
	names, err := backend.Databases()
	if err != nil {
		backend.Close()
		return err
	}

	metas := make([]*storage.Meta, 0, len(names))
	for _, name := range names {
		meta, err := backend.Meta(name)
		if err != nil {
			backend.Close()
			return err
		}
		metas = append(metas, meta)
	}
	err = backend.Close()
	if err != nil {
		return err
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	if db.status == StatusClosing {
		return ErrShutdown
	}

	for _, meta := range metas {
		if meta == nil {
			continue
		}
		key, value := codec.Kind(meta.KeyKind), codec.Kind(meta.ValueKind)
		if !key.Builtin() || !value.Builtin() {
			// registered kinds do not survive a restart
			logger.Database.Warn().Str("path", path).Str("store", meta.Name).Msg("skip store with registered kind")
			continue
		}
		t0 := time.Now()
		h, err := db.open(filename, meta.Name, key, value, store.Features(meta.Features), flags)
		if errors.Is(err, ErrAlreadyOpen) {
			continue
		}
		if err != nil {
			return err
		}
		records, _ := db.stores[h].store.Len()
		logger.Database.Info().
			Str("path", path).
			Str("store", meta.Name).
			Uint32("handle", uint32(h)).
			Int("records", records).
			Dur("took", time.Since(t0)).
			Msg("store loaded")
	}
	return nil
}

// Start loads the database and saves it every Config.SaveInterval until
// Stop.
func (db *Database) Start() error {

	go db.Load()

	if db.config.SaveInterval <= 0 {
		<-db.exit
		return nil
	}

	ticker := time.NewTicker(db.config.SaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-db.exit:
			return nil
		case <-ticker.C:
			if db.GetStatus() != StatusOperating {
				continue
			}
			err := db.Save()
			if err != nil {
				logger.Database.Error().Err(err).Msg("periodic save")
			}
		}
	}
}

func (db *Database) Stop() error {
	defer db.stopped.Do(func() { close(db.exit) })
	return db.Shutdown()
}

// Shutdown closes every cursor and store. Stores that fail to flush
// are dropped and their error reported.
func (db *Database) Shutdown() error {

	db.mutex.Lock()
	defer db.mutex.Unlock()

	db.status = StatusClosing

	handles := make([]Handle, 0, len(db.stores))
	for h := range db.stores {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var errs []error
	for _, h := range handles {
		e := db.stores[h]
		logger.Database.Info().Str("store", e.store.Name).Msg("closing")
		err := e.store.Close()
		if errors.Is(err, store.ErrClosed) {
			err = nil
		}
		if err != nil {
			logger.Database.Error().Err(err).Str("store", e.store.Name).Msg("close")
			errs = append(errs, err)
			e.store.Drop()
		}
		db.forget(e)
	}

	return errors.Join(errs...)
}
