package store

import (
	"errors"

	"github.com/google/btree"
)

const btreeDegree = 32

var errEmptyKey = errors.New("empty key")

// IndexSorted orders records by canonical key bytes.
type IndexSorted struct {
	tree *btree.BTreeG[*Record]
}

func NewIndexSorted() *IndexSorted {
	return &IndexSorted{
		tree: btree.NewG(btreeDegree, lessKey),
	}
}

func (i *IndexSorted) AddRecord(r *Record) error {
	if len(r.Key) == 0 {
		return errEmptyKey
	}
	i.tree.ReplaceOrInsert(r)
	return nil
}

func (i *IndexSorted) RemoveRecord(r *Record) error {
	i.tree.Delete(r)
	return nil
}

func (i *IndexSorted) Traverse(start []byte, f func(r *Record) bool) {
	if start == nil {
		i.tree.Ascend(f)
		return
	}
	i.tree.AscendGreaterOrEqual(&Record{Key: start}, f)
}

func (i *IndexSorted) Snapshot() Index {
	return &IndexSorted{
		tree: i.tree.Clone(),
	}
}

func (i *IndexSorted) GetType() string {
	return "sorted"
}

func (i *IndexSorted) Len() int {
	return i.tree.Len()
}
