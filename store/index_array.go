package store

import (
	"github.com/google/btree"
)

// IndexArray keeps records in insertion order. Updates keep the position
// of the record they replace.
type IndexArray struct {
	tree *btree.BTreeG[*Record]
}

func NewIndexArray() *IndexArray {
	return &IndexArray{
		tree: btree.NewG(btreeDegree, lessSeq),
	}
}

func (i *IndexArray) AddRecord(r *Record) error {
	i.tree.ReplaceOrInsert(r)
	return nil
}

func (i *IndexArray) RemoveRecord(r *Record) error {
	i.tree.Delete(r)
	return nil
}

// Traverse ignores start: positions are not keys.
func (i *IndexArray) Traverse(start []byte, f func(r *Record) bool) {
	i.tree.Ascend(f)
}

// At returns the record at position pos, counting from the oldest.
// The btree keeps no positions, so it walks from the nearest end:
// O(min(pos, Len-pos)).
func (i *IndexArray) At(pos int) (*Record, bool) {
	size := i.tree.Len()
	if pos < 0 || pos >= size {
		return nil, false
	}

	var found *Record
	visit := func(target int) func(r *Record) bool {
		n := 0
		return func(r *Record) bool {
			if n == target {
				found = r
				return false
			}
			n++
			return true
		}
	}

	if pos < size/2 {
		i.tree.Ascend(visit(pos))
	} else {
		i.tree.Descend(visit(size - 1 - pos))
	}
	return found, found != nil
}

func (i *IndexArray) Snapshot() Index {
	return &IndexArray{
		tree: i.tree.Clone(),
	}
}

func (i *IndexArray) GetType() string {
	return "array"
}

func (i *IndexArray) Len() int {
	return i.tree.Len()
}
