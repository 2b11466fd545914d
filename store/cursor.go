package store

import (
	"bytes"
	"iter"
	"slices"
	"sync"
)

// Cursor walks a snapshot of a store taken when it was created.
// Mutations made afterwards are never visible through it. Once Next
// reports the end it keeps reporting the end until Close.
type Cursor struct {
	store *Store
	mutex sync.Mutex
	next  func() (*Record, bool)
	stop  func()
	done  bool

	closed bool
}

// Iterate creates a cursor. The traversal depends on flags:
//
//   - Range on a sorted store walks keys in order from the first key >= start.
//   - A start key without Range yields only the record with that key.
//   - Otherwise records are walked in insertion order when the store has
//     the array index, in no particular order if not. With Range, keys
//     lower than start are skipped.
func (s *Store) Iterate(start []byte, flags IterFlags) (*Cursor, error) {
	// Clone writes to the tree, so snapshots need the write lock.
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	var seq iter.Seq[*Record]
	switch {
	case flags&Range != 0 && s.sorted != nil:
		seq = traverse(s.sorted.Snapshot(), bytes.Clone(start))

	case start != nil && flags&Range == 0:
		r, ok := s.rows[string(start)]
		seq = func(yield func(*Record) bool) {
			if ok {
				yield(r)
			}
		}

	default:
		if s.array != nil {
			seq = traverse(s.array.Snapshot(), nil)
		} else {
			records := make([]*Record, 0, len(s.rows))
			for _, r := range s.rows {
				records = append(records, r)
			}
			seq = slices.Values(records)
		}
		if flags&Range != 0 && start != nil {
			seq = from(seq, bytes.Clone(start))
		}
	}

	next, stop := iter.Pull(seq)
	c := &Cursor{
		store: s,
		next:  next,
		stop:  stop,
	}
	s.cursors[c] = struct{}{}

	return c, nil
}

func traverse(index Index, start []byte) iter.Seq[*Record] {
	return func(yield func(*Record) bool) {
		index.Traverse(start, yield)
	}
}

func from(seq iter.Seq[*Record], start []byte) iter.Seq[*Record] {
	return func(yield func(*Record) bool) {
		for r := range seq {
			if bytes.Compare(r.Key, start) < 0 {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}
}

// Next returns copies of the next key and value. ok is false at the end.
func (c *Cursor) Next() (key, value []byte, ok bool, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return nil, nil, false, ErrCursorClosed
	}
	if c.done {
		return nil, nil, false, nil
	}

	r, ok := c.next()
	if !ok {
		c.done = true
		c.stop()
		return nil, nil, false, nil
	}

	return bytes.Clone(r.Key), bytes.Clone(r.Value), true, nil
}

func (c *Cursor) Done() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.done
}

func (c *Cursor) Store() *Store {
	return c.store
}

func (c *Cursor) Close() error {
	if !c.release() {
		return ErrCursorClosed
	}
	c.store.forget(c)
	return nil
}

func (c *Cursor) release() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	c.stop()
	return true
}

func (s *Store) forget(c *Cursor) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.cursors, c)
}
