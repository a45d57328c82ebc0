package squashfs

import "encoding/binary"

// dirEntry is one child staged for packing into a directory's entry
// stream.
type dirEntry struct {
	name   string
	inoNum uint32
	inoRef inodeRef
	typ    Type
}

// dirWriter packs a directory's children into the header-run encoded
// format dir_writer.c produces: entries are grouped into runs of up
// to 256 that share the same inode-table block and stay within
// +-32767 of the run's first entry's inode number, each run prefixed
// by a 12-byte header (count-1, inode-table block, first inode
// number).
type dirWriter struct {
	dm *metaWriter
}

func newDirWriter(dm *metaWriter) *dirWriter {
	return &dirWriter{dm: dm}
}

// runLength returns how many of entries (a name-sorted slice) belong
// in the same header run as entries[0]. startOfft is the directory
// table's current intra-block offset (before the run's header is
// written), so the accumulator reflects where the 12-byte header
// would actually land, per get_conseq_entry_count.
func (w *dirWriter) runLength(entries []dirEntry, startOfft uint32) int {
	first := entries[0]
	firstBlock := first.inoRef.Index()

	size := (startOfft + 12) % metaBlockSize
	n := 0
	for n < len(entries) && n < 256 {
		e := entries[n]
		if n > 0 {
			if e.inoRef.Index() != firstBlock {
				break
			}
			diff := int64(e.inoNum) - int64(first.inoNum)
			if diff > 32767 || diff < -32767 {
				break
			}
			if size+8+uint32(len(e.name)) > metaBlockSize {
				break
			}
		}
		size += 8 + uint32(len(e.name))
		n++
	}
	if n == 0 {
		n = 1 // an oversized single entry is still emitted alone
	}
	return n
}

// writeDir serializes entries (already sorted by name) into the
// directory table as one or more header+entry runs, returning the
// byte size of the runs written (the owning inode records this plus
// 3) and an index with one record per run, which the caller stores
// only when it emits an extended-dir inode.
func (w *dirWriter) writeDir(entries []dirEntry) (size uint32, index []dirIndexRecord, err error) {
	for i := 0; i < len(entries); {
		block, offt := w.dm.position()
		n := w.runLength(entries[i:], offt)
		run := entries[i : i+n]

		index = append(index, dirIndexRecord{
			Index: size,
			Start: uint32(block),
			Name:  run[0].name,
		})

		if err := w.writeHeader(run); err != nil {
			return 0, nil, err
		}
		size += 12

		for _, e := range run {
			if err := w.writeEntry(run[0].inoNum, e); err != nil {
				return 0, nil, err
			}
			size += uint32(8 + len(e.name))
		}

		i += n
	}

	return size, index, nil
}

func (w *dirWriter) writeHeader(run []dirEntry) error {
	hdr := make([]byte, 12)
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(run)-1))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(run[0].inoRef.Index()))
	binary.LittleEndian.PutUint32(hdr[8:], run[0].inoNum)
	_, err := w.dm.Write(hdr)
	return err
}

func (w *dirWriter) writeEntry(firstInoNum uint32, e dirEntry) error {
	buf := make([]byte, 8+len(e.name))
	binary.LittleEndian.PutUint16(buf[0:], uint16(e.inoRef.Offset()))
	binary.LittleEndian.PutUint16(buf[2:], uint16(int16(int64(e.inoNum)-int64(firstInoNum))))
	binary.LittleEndian.PutUint16(buf[4:], uint16(e.typ))
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(e.name)-1))
	copy(buf[8:], e.name)
	_, err := w.dm.Write(buf)
	return err
}
