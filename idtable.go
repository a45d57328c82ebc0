package squashfs

import "fmt"

// idTable interns uid/gid values into the dense index space
// (UidIdx/GidIdx) inode records reference, the same scheme the
// original writer's buildIDTable used: the first id seen gets index
// 0, the next unseen id gets index 1, and so on.
type idTable struct {
	index map[uint32]uint16
	list  []uint32
}

func newIDTable() *idTable {
	return &idTable{index: make(map[uint32]uint16)}
}

// intern returns id's index, assigning it the next free one the
// first time it is seen.
func (t *idTable) intern(id uint32) (uint16, error) {
	if idx, ok := t.index[id]; ok {
		return idx, nil
	}
	if len(t.list) >= 1<<16 {
		return 0, fmt.Errorf("%w: more than 65536 distinct uid/gid values", ErrAlloc)
	}
	idx := uint16(len(t.list))
	t.list = append(t.list, id)
	t.index[id] = idx
	return idx, nil
}
