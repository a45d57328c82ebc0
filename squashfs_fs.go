package squashfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"strings"
)

// maxSymlinkFollows bounds path resolution so a cycle of symlinks (or a
// pathological ".." dance through one, as exercised by the tests) fails
// with ErrTooManySymlinks instead of looping forever.
const maxSymlinkFollows = 40

// Open opens the SquashFS image at path and reads its superblock, root
// inode and id table, ready for use as an fs.FS.
func Open(path string, opts ...Option) (*Superblock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	sb, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	sb.closer = f

	for _, opt := range opts {
		if err := opt(sb); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := sb.ensureRoot(); err != nil {
		f.Close()
		return nil, err
	}

	return sb, nil
}

// Close releases the underlying file, if any.
func (sb *Superblock) Close() error {
	if sb.closer == nil {
		return nil
	}
	return sb.closer.Close()
}

// loadIDTable reads the uid/gid table referenced by IdTableStart into
// sb.idTable, so inode UidIdx/GidIdx fields can be resolved to actual
// ids.
func (sb *Superblock) loadIDTable() error {
	if sb.IdCount == 0 {
		return nil
	}

	ptrCount := (int(sb.IdCount) + 2047) / 2048
	ptrs := make([]uint64, ptrCount)
	ptrBuf := make([]byte, 8*ptrCount)
	if _, err := sb.fs.ReadAt(ptrBuf, int64(sb.IdTableStart)); err != nil {
		return err
	}
	for i := range ptrs {
		ptrs[i] = sb.order.Uint64(ptrBuf[i*8:])
	}

	ids := make([]uint32, 0, sb.IdCount)
	remaining := int(sb.IdCount)
	for _, blockStart := range ptrs {
		n := remaining
		if n > 2048 {
			n = 2048
		}
		tr, err := sb.newTableReader(int64(blockStart), 0)
		if err != nil {
			return err
		}
		buf := make([]byte, n*4)
		if _, err := io.ReadFull(tr, buf); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			ids = append(ids, sb.order.Uint32(buf[i*4:]))
		}
		remaining -= n
	}

	sb.idTable = ids
	return nil
}

// splitPath breaks a slash-separated path into its non-empty,
// non-"." components.
func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		out = append(out, part)
	}
	return out
}

// resolvePath walks path from the root inode, following "..", and
// following symlinks encountered along the way (always for
// intermediate components, and for the final component only if
// followSymlink is set).
func (sb *Superblock) resolvePath(path string, followSymlink bool) (*Inode, error) {
	if err := sb.ensureRoot(); err != nil {
		return nil, err
	}

	cur := sb.rootIno
	stack := []*Inode{cur}
	pending := splitPath(path)

	symlinks := 0

	for len(pending) > 0 {
		part := pending[0]
		pending = pending[1:]

		if part == ".." {
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			cur = stack[len(stack)-1]
			continue
		}

		if !cur.IsDir() {
			return nil, ErrNotDirectory
		}

		next, err := cur.LookupRelativeInode(context.Background(), part)
		if err != nil {
			return nil, err
		}

		isLast := len(pending) == 0
		if next.Type == uint16(SymlinkType) || next.Type == uint16(XSymlinkType) {
			if !isLast || followSymlink {
				symlinks++
				if symlinks > maxSymlinkFollows {
					return nil, ErrTooManySymlinks
				}

				target := string(next.SymTarget)
				targetParts := splitPath(target)
				if strings.HasPrefix(target, "/") {
					stack = []*Inode{sb.rootIno}
					cur = sb.rootIno
				}
				pending = append(targetParts, pending...)
				continue
			}
		}

		cur = next
		stack = append(stack, cur)
	}

	return cur, nil
}

// FindInode resolves path to its Inode, starting from the filesystem
// root. If followSymlink is true and the final component is a
// symlink, it is followed too; otherwise the symlink inode itself is
// returned (as for Lstat).
func (sb *Superblock) FindInode(path string, followSymlink bool) (*Inode, error) {
	return sb.resolvePath(path, followSymlink)
}

// Lstat returns file info for path without following a symlink at the
// final path component.
func (sb *Superblock) Lstat(name string) (fs.FileInfo, error) {
	ino, err := sb.resolvePath(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	return &fileinfo{name: baseName(name), ino: ino}, nil
}

// Stat implements fs.StatFS, resolving symlinks at every component
// including the last.
func (sb *Superblock) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	ino, err := sb.resolvePath(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return &fileinfo{name: baseName(name), ino: ino}, nil
}

// Open implements fs.FS.
func (sb *Superblock) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	ino, err := sb.resolvePath(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return ino.OpenFile(name), nil
}

// ReadDir implements fs.ReadDirFS.
func (sb *Superblock) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	ino, err := sb.resolvePath(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if !ino.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDirectory}
	}

	fd := ino.OpenFile(name).(*FileDir)
	return fd.ReadDir(-1)
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
