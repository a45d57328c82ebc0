package squashfs_test

import (
	"bytes"
	"fmt"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KarpelesLab/squashfs"
)

// TestWriterExtendedDirectoryTrigger forces a directory's packed entry
// stream past the 16-bit dir_size limit, so the writer must promote it
// to an extended directory (with an index) instead of a basic one -
// and a reader must still be able to list every entry back out.
func TestWriterExtendedDirectoryTrigger(t *testing.T) {
	testFS := make(fstest.MapFS)

	const numFiles = 3000
	for i := 0; i < numFiles; i++ {
		name := fmt.Sprintf("entry-%05d-with-a-somewhat-long-name.dat", i)
		testFS[name] = &fstest.MapFile{Data: []byte(fmt.Sprintf("data %d", i))}
	}

	var buf bytes.Buffer
	w, err := squashfs.NewWriter(&buf)
	require.NoError(t, err)
	w.SetSourceFS(testFS)
	require.NoError(t, fs.WalkDir(testFS, ".", w.Add))
	require.NoError(t, w.Finalize())

	sqfs, err := squashfs.New(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	entries, err := sqfs.ReadDir(".")
	require.NoError(t, err)
	assert.Len(t, entries, numFiles)

	data, err := fs.ReadFile(sqfs, "entry-02999-with-a-somewhat-long-name.dat")
	require.NoError(t, err)
	assert.Equal(t, "data 2999", string(data))
}

// TestWriterSymlinkRoundtrip verifies a symlink added via Add() is
// readable back through Readlink semantics (the type tag round-trips
// and the target bytes are preserved).
func TestWriterSymlinkRoundtrip(t *testing.T) {
	testFS := fstest.MapFS{
		"real.txt": {Data: []byte("real content")},
		"link.txt": {Data: []byte("real.txt"), Mode: fs.ModeSymlink | 0777},
	}

	var buf bytes.Buffer
	w, err := squashfs.NewWriter(&buf)
	require.NoError(t, err)
	w.SetSourceFS(testFS)
	require.NoError(t, fs.WalkDir(testFS, ".", w.Add))
	require.NoError(t, w.Finalize())

	sqfs, err := squashfs.New(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	ino, err := sqfs.FindInode("link.txt", false)
	require.NoError(t, err)
	target, err := ino.Readlink()
	require.NoError(t, err)
	assert.Equal(t, "real.txt", string(target))

	data, err := fs.ReadFile(sqfs, "link.txt")
	require.NoError(t, err)
	assert.Equal(t, "real content", string(data))
}

// TestWriterInodeNumbersAreDense verifies every written inode number
// from 1..InodeCnt resolves through GetInode, the property the export
// table and inode_ref cache both rely on.
func TestWriterInodeNumbersAreDense(t *testing.T) {
	testFS := fstest.MapFS{
		"a/b/c.txt": {Data: []byte("c")},
		"a/d.txt":   {Data: []byte("d")},
		"e.txt":     {Data: []byte("e")},
	}

	var buf bytes.Buffer
	w, err := squashfs.NewWriter(&buf)
	require.NoError(t, err)
	w.SetSourceFS(testFS)
	require.NoError(t, fs.WalkDir(testFS, ".", w.Add))
	require.NoError(t, w.Finalize())

	sqfs, err := squashfs.New(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	for i := uint64(1); i <= uint64(sqfs.InodeCnt); i++ {
		_, err := sqfs.GetInode(i)
		assert.NoErrorf(t, err, "GetInode(%d)", i)
	}
}

// TestWriterDirectoryNlink covers spec scenario S2: nlink = ent_count +
// hlinks + 2, counting every child entry (not just subdirectories).
// A root with a single symlink child must come back with nlink=3, and
// a directory with a mix of file/dir/symlink children must count all
// of them.
func TestWriterDirectoryNlink(t *testing.T) {
	testFS := fstest.MapFS{
		"link.txt": {Data: []byte("target"), Mode: fs.ModeSymlink | 0777},
	}

	var buf bytes.Buffer
	w, err := squashfs.NewWriter(&buf)
	require.NoError(t, err)
	w.SetSourceFS(testFS)
	require.NoError(t, fs.WalkDir(testFS, ".", w.Add))
	require.NoError(t, w.Finalize())

	sqfs, err := squashfs.New(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	root, err := sqfs.FindInode(".", false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, root.NLink, "root with 1 entry: nlink = 1 + 0 + 2")

	mixedFS := fstest.MapFS{
		"dir/a.txt": {Data: []byte("a")},
		"dir/b.txt": {Data: []byte("b")},
		"dir/sub":   {Mode: fs.ModeDir | 0755},
		"dir/link":  {Data: []byte("a.txt"), Mode: fs.ModeSymlink | 0777},
	}

	buf.Reset()
	w, err = squashfs.NewWriter(&buf)
	require.NoError(t, err)
	w.SetSourceFS(mixedFS)
	require.NoError(t, fs.WalkDir(mixedFS, ".", w.Add))
	require.NoError(t, w.Finalize())

	sqfs, err = squashfs.New(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	dir, err := sqfs.FindInode("dir", false)
	require.NoError(t, err)
	assert.EqualValues(t, 6, dir.NLink, "dir with 4 entries: nlink = 4 + 0 + 2")
}
