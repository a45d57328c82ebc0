package squashfs

import "io"

// exportTableReadUnused mirrors exportTableUnused; kept as a separate
// name since this is the read-side view of the same sentinel.
const exportTableReadUnused = uint64(0xFFFFFFFFFFFFFFFF)

// loadExportTable reads the whole NFS export table (inode_num-1 ->
// inode_ref) into memory, generalizing the same indirect-pointer
// layout loadIDTable uses, but with 8-byte records (1024 per 8KiB
// metadata block) instead of 4-byte ones.
func (sb *Superblock) loadExportTable() ([]uint64, error) {
	if !sb.Flags.Has(EXPORTABLE) || sb.ExportTableStart == exportTableReadUnused {
		return nil, ErrInodeNotExported
	}

	count := int(sb.InodeCnt)
	ptrCount := (count + 1023) / 1024
	ptrBuf := make([]byte, 8*ptrCount)
	if _, err := sb.fs.ReadAt(ptrBuf, int64(sb.ExportTableStart)); err != nil {
		return nil, err
	}

	refs := make([]uint64, 0, count)
	remaining := count
	for i := 0; i < ptrCount; i++ {
		blockStart := sb.order.Uint64(ptrBuf[i*8:])
		n := remaining
		if n > 1024 {
			n = 1024
		}
		tr, err := sb.newTableReader(int64(blockStart), 0)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, n*8)
		if _, err := io.ReadFull(tr, buf); err != nil {
			return nil, err
		}
		for j := 0; j < n; j++ {
			refs = append(refs, sb.order.Uint64(buf[j*8:]))
		}
		remaining -= n
	}

	return refs, nil
}

// exportTableLookup resolves an inode number to its inodeRef via the
// NFS export table, loading and caching the table the first time it's
// needed.
func (sb *Superblock) exportTableLookup(ino uint32) (inodeRef, error) {
	sb.exportL.Lock()
	defer sb.exportL.Unlock()

	if sb.exportTbl == nil {
		tbl, err := sb.loadExportTable()
		if err != nil {
			return 0, err
		}
		sb.exportTbl = tbl
	}

	if ino < 1 || int(ino) > len(sb.exportTbl) {
		return 0, ErrInodeNotExported
	}
	ref := sb.exportTbl[ino-1]
	if ref == exportTableReadUnused {
		return 0, ErrInodeNotExported
	}
	return inodeRef(ref), nil
}
