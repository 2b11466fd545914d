package store

import (
	"sync"

	"github.com/fulldump/qmapdb/codec"
)

const mirrorShards = 16

// mirror caches values read from the store. Entries alias immutable
// record values, so they are never copied on the way in.
type mirror struct {
	shards [mirrorShards]mirrorShard
}

type mirrorShard struct {
	mutex   sync.RWMutex
	entries map[string][]byte
}

func newMirror() *mirror {
	m := &mirror{}
	for i := range m.shards {
		m.shards[i].entries = map[string][]byte{}
	}
	return m
}

func (m *mirror) shard(key []byte) *mirrorShard {
	return &m.shards[codec.Hash(key)%mirrorShards]
}

func (m *mirror) get(key []byte) ([]byte, bool) {
	s := m.shard(key)
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	v, ok := s.entries[string(key)]
	return v, ok
}

func (m *mirror) set(key, value []byte) {
	s := m.shard(key)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.entries[string(key)] = value
}

func (m *mirror) evict(key []byte) {
	s := m.shard(key)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.entries, string(key))
}

func (m *mirror) len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mutex.RLock()
		n += len(s.entries)
		s.mutex.RUnlock()
	}
	return n
}
