package squashfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"reflect"
	"sync"
)

// SuperblockSize is the fixed on-disk size of a SquashFS 4.0
// superblock, in bytes. A Writer reserves this many bytes up front
// and overwrites them once the table offsets are known.
const SuperblockSize = 96

const squashfsMagic = 0x73717368

// https://dr-emann.github.io/squashfs/
type Superblock struct {
	fs     io.ReaderAt
	closer io.Closer
	order  binary.ByteOrder

	Magic             uint32
	InodeCnt          uint32
	ModTime           int32
	BlockSize         uint32
	FragCount         uint32
	Comp              Compression
	BlockLog          uint16
	Flags             SquashFlags
	IdCount           uint16
	VMajor            uint16
	VMinor            uint16
	RootInode         uint64
	BytesUsed         uint64
	IdTableStart      uint64
	XattrIdTableStart uint64
	InodeTableStart   uint64
	DirTableStart     uint64
	FragTableStart    uint64
	ExportTableStart  uint64

	// Reader-side caches, populated lazily as inodes are visited.
	rootIno  *Inode
	rootInoN uint64 // inode number actually stored as inode #1 on disk
	inoOfft  uint64

	rootOnce sync.Once
	rootErr  error

	inoIdxL sync.RWMutex
	inoIdx  map[uint32]inodeRef

	idTable []uint32

	exportL   sync.Mutex
	exportTbl []uint64
}

// New parses a SquashFS superblock from the start of fs. It does not
// load the root inode or id table; use Open for a ready-to-browse
// filesystem.
func New(fs io.ReaderAt) (*Superblock, error) {
	sb := &Superblock{fs: fs}
	head := make([]byte, SuperblockSize)

	if _, err := fs.ReadAt(head, 0); err != nil {
		return nil, err
	}
	if err := sb.UnmarshalBinary(head); err != nil {
		return nil, err
	}
	if sb.VMajor != 4 || sb.VMinor != 0 {
		return nil, ErrInvalidVersion
	}

	return sb, nil
}

func (s *Superblock) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return ErrInvalidFile
	}

	switch string(data[:4]) {
	case "hsqs":
		s.order = binary.LittleEndian
	case "sqsh":
		s.order = binary.BigEndian
	default:
		return ErrInvalidFile
	}

	v := reflect.ValueOf(s).Elem()
	c := v.NumField()
	r := bytes.NewReader(data)

	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name[0]
		if name < 'A' || name > 'Z' {
			continue
		}
		if err := binary.Read(r, s.order, v.Field(i).Addr().Interface()); err != nil {
			return err
		}
	}

	if s.BlockSize == 0 || (1<<s.BlockLog) != s.BlockSize {
		return ErrInvalidSuper
	}

	return nil
}

// Bytes serializes the superblock to its on-disk representation. The
// byte order defaults to little-endian if one hasn't been set (as is
// the case for a superblock a Writer is producing from scratch).
func (s *Superblock) Bytes() []byte {
	order := s.order
	if order == nil {
		order = binary.LittleEndian
	}

	buf := &bytes.Buffer{}
	v := reflect.ValueOf(s).Elem()
	c := v.NumField()

	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name[0]
		if name < 'A' || name > 'Z' {
			continue
		}
		_ = binary.Write(buf, order, v.Field(i).Interface())
	}

	out := buf.Bytes()
	if len(out) < SuperblockSize {
		out = append(out, make([]byte, SuperblockSize-len(out))...)
	}
	return out
}

// ensureRoot lazily loads the root inode and id table the first time
// they're needed, so a Superblock obtained directly from New (which
// only parses the 96-byte header) can still be browsed via
// FindInode/Stat/Open/ReadDir without requiring the caller to go
// through Open.
func (s *Superblock) ensureRoot() error {
	s.rootOnce.Do(func() {
		if s.rootIno != nil {
			return
		}
		if s.IdCount > 0 && len(s.idTable) == 0 {
			if err := s.loadIDTable(); err != nil {
				s.rootErr = err
				return
			}
		}
		root, err := s.GetInodeRef(inodeRef(s.RootInode))
		if err != nil {
			s.rootErr = err
			return
		}
		s.rootIno = root
		s.rootInoN = uint64(root.Ino)
		s.setInodeRefCache(root.Ino, inodeRef(s.RootInode))
	})
	return s.rootErr
}

func (s *Superblock) setInodeRefCache(ino uint32, ref inodeRef) {
	s.inoIdxL.Lock()
	if s.inoIdx == nil {
		s.inoIdx = make(map[uint32]inodeRef)
	}
	s.inoIdx[ino] = ref
	s.inoIdxL.Unlock()
}
