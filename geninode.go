package squashfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// noXattr marks "no xattr" in an inode's xattr index field, the same
// sentinel write_inode.c uses.
const noXattr = 0xFFFFFFFF

// dirIndexRecord is one entry of an extended directory's index: it
// lets a reader jump straight to the header run covering a given
// name instead of scanning from the start of the directory.
type dirIndexRecord struct {
	Index uint32 // byte offset into this directory's entry stream
	Start uint32 // directory-table block (relative to DirTableStart) the run's header lives in
	Name  string // first name in the indexed run
}

// genericInode is an in-memory tagged-union inode record mirroring
// the fourteen on-wire variants from write_inode.c. Rather than
// reinterpreting a flex byte buffer the way the C original does, each
// variant's fields are named directly, and Serialize packs only the
// fields that apply to Type.
type genericInode struct {
	Type    Type
	Mode    uint16
	UidIdx  uint16
	GidIdx  uint16
	ModTime uint32
	Ino     uint32
	NLink   uint32

	// directory (Dir/XDir)
	StartBlock uint64
	ParentIno  uint32
	DirSize    uint32
	Offset     uint16
	IdxCount   uint16
	XattrIdx   uint32
	DirIndex   []dirIndexRecord

	// regular file (File/XFile)
	FragBlock  uint32
	FragOffset uint32
	FileSize   uint64
	Sparse     uint64
	BlockSizes []uint32

	// symlink (Symlink/XSymlink)
	Target []byte

	// device (BlockDev/CharDev, extended variants)
	Rdev uint32
}

// Serialize packs n into its on-disk byte representation, ready to be
// appended to an inode-table metaWriter.
func (n *genericInode) Serialize(order binary.ByteOrder) ([]byte, error) {
	buf := &bytes.Buffer{}

	binary.Write(buf, order, uint16(n.Type))
	binary.Write(buf, order, n.Mode)
	binary.Write(buf, order, n.UidIdx)
	binary.Write(buf, order, n.GidIdx)
	binary.Write(buf, order, n.ModTime)
	binary.Write(buf, order, n.Ino)

	switch n.Type {
	case DirType:
		binary.Write(buf, order, uint32(n.StartBlock))
		binary.Write(buf, order, n.NLink)
		binary.Write(buf, order, uint16(n.DirSize))
		binary.Write(buf, order, n.Offset)
		binary.Write(buf, order, n.ParentIno)

	case XDirType:
		binary.Write(buf, order, n.NLink)
		binary.Write(buf, order, n.DirSize)
		binary.Write(buf, order, uint32(n.StartBlock))
		binary.Write(buf, order, n.ParentIno)
		binary.Write(buf, order, n.IdxCount)
		binary.Write(buf, order, n.Offset)
		binary.Write(buf, order, n.XattrIdx)
		for _, idx := range n.DirIndex {
			binary.Write(buf, order, idx.Start)
			binary.Write(buf, order, idx.Index)
			binary.Write(buf, order, uint16(len(idx.Name)-1))
			buf.WriteString(idx.Name)
		}

	case FileType:
		binary.Write(buf, order, uint32(n.StartBlock))
		binary.Write(buf, order, n.FragBlock)
		binary.Write(buf, order, n.FragOffset)
		binary.Write(buf, order, uint32(n.FileSize))
		for _, b := range n.BlockSizes {
			binary.Write(buf, order, b)
		}

	case XFileType:
		binary.Write(buf, order, n.StartBlock)
		binary.Write(buf, order, n.FileSize)
		binary.Write(buf, order, n.Sparse)
		binary.Write(buf, order, n.NLink)
		binary.Write(buf, order, n.FragBlock)
		binary.Write(buf, order, n.FragOffset)
		binary.Write(buf, order, n.XattrIdx)
		for _, b := range n.BlockSizes {
			binary.Write(buf, order, b)
		}

	case SymlinkType:
		binary.Write(buf, order, n.NLink)
		binary.Write(buf, order, uint32(len(n.Target)))
		buf.Write(n.Target)

	case XSymlinkType:
		binary.Write(buf, order, n.NLink)
		binary.Write(buf, order, uint32(len(n.Target)))
		buf.Write(n.Target)
		binary.Write(buf, order, n.XattrIdx)

	case BlockDevType, CharDevType:
		binary.Write(buf, order, n.NLink)
		binary.Write(buf, order, n.Rdev)

	case XBlockDevType, XCharDevType:
		binary.Write(buf, order, n.NLink)
		binary.Write(buf, order, n.Rdev)
		binary.Write(buf, order, n.XattrIdx)

	case FifoType, SocketType:
		binary.Write(buf, order, n.NLink)

	case XFifoType, XSocketType:
		binary.Write(buf, order, n.NLink)
		binary.Write(buf, order, n.XattrIdx)

	default:
		return nil, fmt.Errorf("%w: inode type %d", ErrUnsupported, n.Type)
	}

	return buf.Bytes(), nil
}
