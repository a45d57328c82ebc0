package squashfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"time"
)

// Writer creates SquashFS filesystem images.
// It builds the filesystem structure in memory and streams the final
// image to an io.Writer when Finalize() is called.
//
// The Writer maintains an in-memory representation of the filesystem tree,
// including all inodes, directory structures, and file metadata. When Finalize()
// is called, it performs the following steps:
//  1. Writes file data blocks
//  2. Serializes the tree in a single forward pass (children before parents),
//     producing the inode table and directory table together
//  3. Writes the directory table, inode table, id table and export table
//  4. Builds and writes the superblock
type Writer struct {
	w      io.Writer
	wa     io.WriterAt   // set if w implements WriterAt
	buf    *bytes.Buffer // used when w doesn't implement WriterAt
	offset uint64        // current write offset

	// Filesystem metadata
	blockSize   uint32
	comp        Compression
	modTime     int32
	flags       SquashFlags
	noExportTbl bool

	// In-memory inode tree
	inodes     []*writerInode
	rootInode  *writerInode
	inodeCount uint32
	inodeMap   map[string]*writerInode // path -> inode mapping

	// Default source filesystem (captured by Add() into each inode)
	srcFS fs.FS

	// Table positions (filled during Finalize)
	idTableStart     uint64
	inodeTableStart  uint64
	dirTableStart    uint64
	fragTableStart   uint64
	exportTableStart uint64
	bytesUsed        uint64
	rootInodeRef     inodeRef

	// Superblock instance (populated during Finalize)
	sb Superblock
}

// writerInode represents an inode being built in memory.
// Each inode corresponds to a file, directory, symlink, or special file
// in the filesystem. The inode contains metadata and references to the
// actual data (for files) or directory entries (for directories).
type writerInode struct {
	path string
	name string
	ino  uint32

	// File metadata
	mode      fs.FileMode
	size      uint64
	modTime   int64
	uid       uint32
	gid       uint32
	nlink     uint32
	fileType  Type
	symTarget string // symlink target path
	rdev      uint32 // device number, for block/char device inodes

	// Source filesystem for reading file data
	srcFS fs.FS

	// For directories
	entries []*writerInode
	parent  *writerInode

	// File data info (filled during writeFileData)
	dataBlocks []uint32 // block sizes for file data (bit 24 flags "stored uncompressed")
	startBlock uint64   // start position of file data in the image

	// Filled by treeWriter.serialize, in post-order (children before
	// parents) so a directory always sees its children's values
	// already set by the time it is itself serialized.
	inodeRef   inodeRef
	onDiskTyp  Type
}

// WriterOption configures a Writer
type WriterOption func(*Writer) error

// WithBlockSize sets the block size for the filesystem (default: 131072)
func WithBlockSize(size uint32) WriterOption {
	return func(w *Writer) error {
		w.blockSize = size
		return nil
	}
}

// WithCompression sets the compression type (default: GZip)
func WithCompression(comp Compression) WriterOption {
	return func(w *Writer) error {
		w.comp = comp
		return nil
	}
}

// WithModTime sets the filesystem modification time (default: current time)
func WithModTime(t time.Time) WriterOption {
	return func(w *Writer) error {
		w.modTime = int32(t.Unix())
		return nil
	}
}

// WithoutExportTable disables the NFS export table, saving one table
// write for images that will never be re-exported over NFS.
func WithoutExportTable() WriterOption {
	return func(w *Writer) error {
		w.noExportTbl = true
		return nil
	}
}

// NewWriter creates a new SquashFS writer that will write to w.
// The filesystem is built in memory and written when Finalize() is called.
//
// If w implements io.WriterAt, the writer will write a blank superblock
// initially and update it at the end. Otherwise, it will buffer everything
// in memory and write it all at once when Finalize() is called.
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	writer := &Writer{
		w:         w,
		blockSize: 131072, // 128KB default
		comp:      GZip,
		modTime:   int32(time.Now().Unix()),
		inodes:    make([]*writerInode, 0),
		inodeMap:  make(map[string]*writerInode),
	}

	// Check if writer supports WriterAt
	if wa, ok := w.(io.WriterAt); ok {
		writer.wa = wa
		writer.offset = SuperblockSize // start after superblock
	} else {
		// Use internal buffer - pre-allocate superblock space
		writer.buf = &bytes.Buffer{}
		// Write blank superblock placeholder
		writer.buf.Write(make([]byte, SuperblockSize))
		writer.offset = SuperblockSize
	}

	// Create root inode
	writer.rootInode = &writerInode{
		path:     "",
		name:     "",
		ino:      1,
		mode:     fs.ModeDir | 0755,
		modTime:  time.Now().Unix(),
		uid:      0,
		gid:      0,
		fileType: DirType,
		entries:  make([]*writerInode, 0),
	}
	writer.inodes = append(writer.inodes, writer.rootInode)
	writer.inodeCount = 1

	// Apply options
	for _, opt := range opts {
		if err := opt(writer); err != nil {
			return nil, err
		}
	}

	return writer, nil
}

// SetCompression sets the compression algorithm to use when writing the filesystem.
// This can be called at any time before Finalize() is called.
// The compression affects metadata blocks and data blocks.
func (w *Writer) SetCompression(comp Compression) {
	w.comp = comp
}

// SetSourceFS sets the default source filesystem to read file data from.
// This filesystem will be used for subsequent Add() calls.
// You can call SetSourceFS() multiple times to add files from different filesystems.
func (w *Writer) SetSourceFS(srcFS fs.FS) {
	w.srcFS = srcFS
}

// Add adds a file or directory to the filesystem.
// This method is compatible with fs.WalkDirFunc, allowing it to be used directly
// with fs.WalkDir:
//
//	err := fs.WalkDir(srcFS, ".", writer.Add)
//
// The actual file data is not written until Finalize() is called.
func (w *Writer) Add(path string, d fs.DirEntry, err error) error {
	if err != nil {
		return err
	}

	// Skip root (already created)
	if path == "." || path == "" {
		w.inodeMap["."] = w.rootInode
		w.inodeMap[""] = w.rootInode
		return nil
	}

	info, err := d.Info()
	if err != nil {
		return err
	}

	w.inodeCount++
	inode := &writerInode{
		path:    path,
		name:    info.Name(),
		ino:     w.inodeCount,
		mode:    info.Mode(),
		size:    uint64(info.Size()),
		modTime: info.ModTime().Unix(),
		nlink:   1,
		srcFS:   w.srcFS, // Capture current source filesystem
	}

	// Extract uid/gid from info.Sys() if available
	if sys := info.Sys(); sys != nil {
		if statT, ok := sys.(interface {
			Uid() uint32
			Gid() uint32
		}); ok {
			inode.uid = statT.Uid()
			inode.gid = statT.Gid()
		}
		if devT, ok := sys.(interface{ Rdev() uint32 }); ok {
			inode.rdev = devT.Rdev()
		}
	}

	// Determine inode type
	switch {
	case info.Mode().IsDir():
		inode.fileType = DirType
		inode.entries = make([]*writerInode, 0)
	case info.Mode().IsRegular():
		inode.fileType = FileType
	case info.Mode()&fs.ModeSymlink != 0:
		inode.fileType = SymlinkType
		// Read symlink target
		if inode.srcFS != nil {
			target, err := fs.ReadLink(inode.srcFS, path)
			if err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", path, err)
			}
			inode.symTarget = target
			inode.size = uint64(len(target))
		}
	case info.Mode()&fs.ModeCharDevice != 0:
		inode.fileType = CharDevType
	case info.Mode()&fs.ModeDevice != 0:
		inode.fileType = BlockDevType
	case info.Mode()&fs.ModeNamedPipe != 0:
		inode.fileType = FifoType
	case info.Mode()&fs.ModeSocket != 0:
		inode.fileType = SocketType
	default:
		// Unknown type, treat as regular file
		inode.fileType = FileType
	}

	// Add to inode list and map
	w.inodes = append(w.inodes, inode)
	w.inodeMap[path] = inode

	// Build directory tree structure
	parentPath := getParentPath(path)
	parent := w.inodeMap[parentPath]
	if parent == nil {
		// Parent doesn't exist, shouldn't happen with WalkDir
		return fmt.Errorf("parent directory not found for %s", path)
	}

	inode.parent = parent
	parent.entries = append(parent.entries, inode)

	return nil
}

// getParentPath returns the parent directory path
func getParentPath(path string) string {
	if path == "" || path == "." {
		return ""
	}
	// Find last slash
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "."
			}
			return path[:i]
		}
	}
	return "."
}

// write writes data to the current offset and advances the offset.
func (w *Writer) write(data []byte) error {
	if w.wa != nil {
		// Use WriterAt
		_, err := w.wa.WriteAt(data, int64(w.offset))
		if err != nil {
			return err
		}
	} else {
		// Use buffer
		_, err := w.buf.Write(data)
		if err != nil {
			return err
		}
	}
	w.offset += uint64(len(data))
	return nil
}

// writeIndirectTable packs data (a flat byte slice of fixed-size
// records) into one metadata block per up to perBlock records,
// appends the resulting metadata bytes to the image, then writes the
// array of absolute block-start offsets (the "indirect" pointer
// table squashfs uses for the id, export and fragment tables) and
// returns that array's own offset - the value stored in the
// superblock's corresponding *TableStart field.
func (w *Writer) writeIndirectTable(data []byte, recordSize, perBlock int) (uint64, error) {
	if len(data) == 0 {
		return 0xFFFFFFFFFFFFFFFF, nil
	}

	mw := newMetaWriter(w.comp)
	base := w.offset
	chunk := recordSize * perBlock

	var ptrs []uint64
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		block, _ := mw.position()
		ptrs = append(ptrs, base+block)
		if _, err := mw.Write(data[off:end]); err != nil {
			return 0, err
		}
	}
	if err := mw.Flush(); err != nil {
		return 0, err
	}
	if err := w.write(mw.Bytes()); err != nil {
		return 0, err
	}

	start := w.offset
	ptrBuf := make([]byte, 8*len(ptrs))
	for i, p := range ptrs {
		binary.LittleEndian.PutUint64(ptrBuf[i*8:], p)
	}
	if err := w.write(ptrBuf); err != nil {
		return 0, err
	}
	return start, nil
}

// Finalize writes out all file data, the serialized tree, and the
// id/export tables, then the superblock, completing the image.
func (w *Writer) Finalize() error {
	// Write data blocks for regular files. This must happen before the
	// tree is serialized: a file's inode record names its data's start
	// block and per-block sizes.
	if err := w.writeFileData(); err != nil {
		return err
	}

	// Number every inode in post order (children before parents) and
	// serialize the whole tree in that same single forward pass -
	// replacing the old iterative position/offset convergence loop
	// entirely, since by construction no node is ever written before
	// a node that references it.
	order := binary.LittleEndian
	tw := newTreeWriter(w.comp, order)
	nodes := numberTree(w.rootInode)
	if err := tw.serialize(nodes, w.modTime); err != nil {
		return err
	}
	w.inodeCount = uint32(len(nodes))
	w.rootInodeRef = w.rootInode.inodeRef

	// Seal the partial trailing block of each metadata stream so Bytes
	// includes it.
	if err := tw.dm.Flush(); err != nil {
		return err
	}
	if err := tw.im.Flush(); err != nil {
		return err
	}

	// Directory table, then inode table (order matches DirTableStart
	// coming before InodeTableStart isn't required by the format, but
	// matches how the original writer laid tables out).
	w.dirTableStart = w.offset
	if err := w.write(tw.dm.Bytes()); err != nil {
		return err
	}

	w.inodeTableStart = w.offset
	if err := w.write(tw.im.Bytes()); err != nil {
		return err
	}

	// ID (uid/gid) table
	idData := make([]byte, 4*len(tw.ids.list))
	for i, id := range tw.ids.list {
		binary.LittleEndian.PutUint32(idData[i*4:], id)
	}
	idTableStart, err := w.writeIndirectTable(idData, 4, 2048)
	if err != nil {
		return err
	}
	w.idTableStart = idTableStart

	// No fragment support yet.
	w.fragTableStart = 0xFFFFFFFFFFFFFFFF
	w.flags |= NO_FRAGMENTS

	// Export table
	w.exportTableStart = 0xFFFFFFFFFFFFFFFF
	if !w.noExportTbl {
		exportData := tw.xt.bytes(int(w.inodeCount))
		exportTableStart, err := w.writeIndirectTable(exportData, 8, 1024)
		if err != nil {
			return err
		}
		w.exportTableStart = exportTableStart
		w.flags |= EXPORTABLE
	}

	w.bytesUsed = w.offset

	// Build and write superblock
	w.buildSuperblock(uint16(len(tw.ids.list)))
	sbData := w.sb.Bytes()

	// Write superblock
	if w.wa != nil {
		// Update superblock at offset 0
		_, err := w.wa.WriteAt(sbData, 0)
		return err
	}

	// For buffered mode, copy superblock to the beginning of buffer
	data := w.buf.Bytes()
	copy(data[0:SuperblockSize], sbData)

	// Write everything to the final writer
	_, err = w.w.Write(data)
	return err
}

// buildSuperblock constructs the superblock structure
func (w *Writer) buildSuperblock(idCount uint16) {
	// Calculate block log
	blockLog := uint16(0)
	for i := uint16(0); i < 32; i++ {
		if (1 << i) == w.blockSize {
			blockLog = i
			break
		}
	}

	// Populate superblock fields
	w.sb.Magic = squashfsMagic
	w.sb.InodeCnt = w.inodeCount
	w.sb.ModTime = w.modTime
	w.sb.BlockSize = w.blockSize
	w.sb.FragCount = 0 // no fragments yet
	w.sb.Comp = w.comp
	w.sb.BlockLog = blockLog
	w.sb.Flags = w.flags
	w.sb.IdCount = idCount
	w.sb.VMajor = 4
	w.sb.VMinor = 0
	w.sb.RootInode = uint64(w.rootInodeRef)
	w.sb.BytesUsed = w.bytesUsed
	w.sb.IdTableStart = w.idTableStart
	w.sb.XattrIdTableStart = 0xFFFFFFFFFFFFFFFF // no xattrs
	w.sb.InodeTableStart = w.inodeTableStart
	w.sb.DirTableStart = w.dirTableStart
	w.sb.FragTableStart = w.fragTableStart
	w.sb.ExportTableStart = w.exportTableStart
	w.sb.order = binary.LittleEndian
}
