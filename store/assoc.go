package store

import (
	"bytes"
	"fmt"

	"github.com/fulldump/qmapdb/logger"
)

// Deriver maps a record of a primary store to the record kept for it in
// an associated store. ok false means the record has no counterpart.
type Deriver func(key, value []byte) (skey, svalue []byte, ok bool)

// Reverse indexes a store by value: the secondary maps value to key.
// When several keys share a value the last written one wins.
func Reverse(key, value []byte) ([]byte, []byte, bool) {
	return value, key, true
}

type association struct {
	secondary *Store
	derive    Deriver
}

type derived struct {
	key, value []byte
	ok         bool
}

// Associate keeps secondary in sync with every put and delete on s.
// Existing records are copied over first. Associations are one level
// deep: a secondary cannot have associations of its own and a store
// fed by another one cannot become a primary.
func (s *Store) Associate(secondary *Store, derive Deriver) error {
	if secondary == nil || secondary == s || derive == nil {
		return ErrAssoc
	}

	secondary.mutex.RLock()
	busy := len(secondary.assocs) > 0
	secondary.mutex.RUnlock()
	if busy {
		return fmt.Errorf("'%s' has associations: %w", secondary.Name, ErrAssoc)
	}
	if err := secondary.writable(); err != nil {
		return fmt.Errorf("secondary '%s': %w", secondary.Name, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	if len(s.primaries) > 0 {
		return fmt.Errorf("'%s' is associated to another store: %w", s.Name, ErrAssoc)
	}

	for _, r := range s.rows {
		skey, svalue, ok := derive(r.Key, r.Value)
		if !ok {
			continue
		}
		_, err := secondary.Put(skey, svalue)
		if err != nil {
			return fmt.Errorf("fill '%s': %w", secondary.Name, err)
		}
	}

	s.assocs = append(s.assocs, &association{secondary: secondary, derive: derive})
	secondary.addPrimary(s)

	return nil
}

// derive computes and validates the secondary records of r before
// anything is modified.
func (s *Store) derive(r *Record) ([]derived, error) {
	if len(s.assocs) == 0 {
		return nil, nil
	}

	result := make([]derived, len(s.assocs))
	for i, a := range s.assocs {
		skey, svalue, ok := a.derive(r.Key, r.Value)
		if !ok {
			continue
		}
		err := a.secondary.check(skey, svalue)
		if err != nil {
			return nil, fmt.Errorf("'%s' for '%s': %w: %w", a.secondary.Name, s.Name, ErrAssoc, err)
		}
		result[i] = derived{key: skey, value: svalue, ok: true}
	}
	return result, nil
}

// propagate applies a change of s to its secondaries. next is nil for a
// deletion.
func (s *Store) propagate(old *Record, next []derived) {
	for i, a := range s.assocs {
		if old != nil {
			okey, _, ok := a.derive(old.Key, old.Value)
			moved := next == nil || !next[i].ok || !bytes.Equal(okey, next[i].key)
			if ok && moved {
				_, err := a.secondary.Delete(okey)
				if err != nil && !a.secondary.Closed() {
					logger.Storage.Warn().Err(err).Str("store", a.secondary.Name).Msg("associated delete")
				}
			}
		}
		if next != nil && next[i].ok {
			_, err := a.secondary.Put(next[i].key, next[i].value)
			if err != nil && !a.secondary.Closed() {
				logger.Storage.Warn().Err(err).Str("store", a.secondary.Name).Msg("associated put")
			}
		}
	}
}

func (s *Store) addPrimary(p *Store) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.primaries = append(s.primaries, p)
}

func (s *Store) forgetPrimary(p *Store) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.primaries = removeStore(s.primaries, p)
}

func (s *Store) dissociate(secondary *Store) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	kept := s.assocs[:0]
	for _, a := range s.assocs {
		if a.secondary != secondary {
			kept = append(kept, a)
		}
	}
	s.assocs = kept
}

func removeStore(stores []*Store, target *Store) []*Store {
	kept := stores[:0]
	for _, st := range stores {
		if st != target {
			kept = append(kept, st)
		}
	}
	return kept
}
