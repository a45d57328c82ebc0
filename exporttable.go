package squashfs

import (
	"encoding/binary"
	"fmt"
)

// exportTableUnused marks an export table slot with no known inode,
// the same all-ones sentinel add_export_table_entry memsets new slots
// to.
const exportTableUnused = inodeRef(0xFFFFFFFFFFFFFFFF)

// exportTable is the dense inode_num-1 -> inode_ref array backing NFS
// export support (SQFS_FLAG_EXPORTABLE), grown by doubling the way
// dir_writer.c's add_export_table_entry does.
type exportTable struct {
	slots []inodeRef
}

func newExportTable() *exportTable {
	t := &exportTable{slots: make([]inodeRef, 512)}
	for i := range t.slots {
		t.slots[i] = exportTableUnused
	}
	return t
}

func (t *exportTable) set(inoNum uint32, ref inodeRef) error {
	if inoNum < 1 {
		return fmt.Errorf("%w: inode number must be >= 1", ErrInvalidArg)
	}

	idx := int(inoNum - 1)
	for idx >= len(t.slots) {
		grown := make([]inodeRef, len(t.slots)*2)
		copy(grown, t.slots)
		for i := len(t.slots); i < len(grown); i++ {
			grown[i] = exportTableUnused
		}
		t.slots = grown
	}
	t.slots[idx] = ref
	return nil
}

// bytes packs the table as a flat little-endian uint64 array, one
// entry per discovered inode number (trailing never-set slots beyond
// the highest inode number are dropped).
func (t *exportTable) bytes(count int) []byte {
	if count > len(t.slots) {
		count = len(t.slots)
	}
	out := make([]byte, count*8)
	for i := 0; i < count; i++ {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(t.slots[i]))
	}
	return out
}
