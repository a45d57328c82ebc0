package squashfs

import "encoding/binary"

// metaBlockSize is the fixed logical size of a SquashFS metadata
// block: every inode table, directory table and id/export table is a
// stream of these, each independently compressed.
const metaBlockSize = 8192

// metaWriter accumulates records into SquashFS metadata blocks. Bytes
// are appended to a pending buffer and sealed into 8KiB logical
// blocks as soon as enough have arrived; each sealed block is
// compressed independently, falling back to a raw copy flagged with
// the 0x8000 bit when compression doesn't shrink it - the same policy
// the original writer's writeMetadataBlock used, generalized here to
// an arbitrary number of blocks instead of just one.
type metaWriter struct {
	comp Compression
	pend []byte
	out  []byte
}

func newMetaWriter(comp Compression) *metaWriter {
	return &metaWriter{comp: comp}
}

// position reports where the next byte Write()s would land, as a
// (block, offset) pair suitable for packing into an inodeRef or a
// directory entry's location fields. offset is always < metaBlockSize
// since a block is sealed the instant it fills.
func (m *metaWriter) position() (block uint64, offset uint32) {
	return uint64(len(m.out)), uint32(len(m.pend))
}

func (m *metaWriter) Write(p []byte) (int, error) {
	n := len(p)
	m.pend = append(m.pend, p...)
	for len(m.pend) >= metaBlockSize {
		if err := m.sealBlock(m.pend[:metaBlockSize]); err != nil {
			return 0, err
		}
		m.pend = m.pend[metaBlockSize:]
	}
	return n, nil
}

func (m *metaWriter) sealBlock(data []byte) error {
	cp := append([]byte(nil), data...)

	var hdr uint16
	payload := cp
	if comp, err := m.comp.compress(cp); err == nil && len(comp) < len(cp) {
		hdr = uint16(len(comp))
		payload = comp
	} else {
		hdr = uint16(len(cp)) | 0x8000
	}

	rec := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(rec, hdr)
	copy(rec[2:], payload)
	m.out = append(m.out, rec...)
	return nil
}

// Flush seals any partial trailing block. Call once, after the last
// Write, before reading Bytes.
func (m *metaWriter) Flush() error {
	if len(m.pend) == 0 {
		return nil
	}
	if err := m.sealBlock(m.pend); err != nil {
		return err
	}
	m.pend = nil
	return nil
}

// Bytes returns the fully sealed, on-disk representation of this
// metadata stream (2-byte length header + payload, repeated).
func (m *metaWriter) Bytes() []byte {
	return m.out
}
