package store

import (
	"fmt"
)

// Index is a secondary ordering over the records of a store. Indexes
// are updated under the store write lock together with the primary map.
type Index interface {
	// AddRecord inserts r or replaces the record it supersedes.
	AddRecord(r *Record) error
	RemoveRecord(r *Record) error
	// Traverse visits records in index order starting at start (nil for
	// the first one) until f returns false.
	Traverse(start []byte, f func(r *Record) bool)
	// Snapshot returns a frozen copy. Later changes to the index are not
	// visible through it.
	Snapshot() Index
	GetType() string
	Len() int
}

func indexInsert(indexes map[string]Index, r, old *Record) (err error) {
	rollbacks := make([]Index, 0, len(indexes))

	defer func() {
		if err == nil {
			return
		}
		for _, index := range rollbacks {
			if old != nil {
				index.AddRecord(old)
			} else {
				index.RemoveRecord(r)
			}
		}
	}()

	for name, index := range indexes {
		err = index.AddRecord(r)
		if err != nil {
			return fmt.Errorf("index add '%s': %w", name, err)
		}
		rollbacks = append(rollbacks, index)
	}

	return
}

func indexRemove(indexes map[string]Index, r *Record) (err error) {
	for name, index := range indexes {
		err = index.RemoveRecord(r)
		if err != nil {
			return fmt.Errorf("index remove '%s': %w", name, err)
		}
	}
	return
}
