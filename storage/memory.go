package storage

import (
	"bytes"
	"sort"
	"sync"
)

// Memory keeps committed state in process. It backs anonymous stores
// and tests.
type Memory struct {
	mutex  sync.RWMutex
	dbs    map[string]*memoryDB
	closed bool
}

type memoryDB struct {
	meta    *Meta
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{
		dbs: map[string]*memoryDB{},
	}
}

func (m *Memory) Meta(db string) (*Meta, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	d, ok := m.dbs[db]
	if !ok || d.meta == nil {
		return nil, nil
	}
	meta := *d.meta
	return &meta, nil
}

func (m *Memory) Load(db string, f func(e Entry) error) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.closed {
		return ErrClosed
	}
	d, ok := m.dbs[db]
	if !ok {
		return nil
	}
	for _, e := range d.entries {
		err := f(Entry{Key: bytes.Clone(e.Key), Value: bytes.Clone(e.Value), Seq: e.Seq})
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Commit(db string, meta *Meta, ops []Op) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return ErrClosed
	}
	d, ok := m.dbs[db]
	if !ok {
		d = &memoryDB{entries: map[string]Entry{}}
		m.dbs[db] = d
	}
	if meta != nil {
		copied := *meta
		d.meta = &copied
	}
	for _, op := range ops {
		if op.Delete {
			delete(d.entries, string(op.Key))
			continue
		}
		d.entries[string(op.Key)] = Entry{Key: bytes.Clone(op.Key), Value: bytes.Clone(op.Value), Seq: op.Seq}
	}
	return nil
}

func (m *Memory) Databases() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := []string{}
	for name, d := range m.dbs {
		if d.meta != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}
