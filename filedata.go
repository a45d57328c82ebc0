package squashfs

import (
	"fmt"
	"io"
)

// blockCompressedFlag marks a data block's size field as "stored
// without compression" (the block didn't shrink enough to be worth
// it), the data-block counterpart of the 0x8000 flag metaWriter's
// sealBlock sets on raw metadata blocks.
const blockCompressedFlag = uint32(1) << 24

// writeFileData streams every regular file's content into the image,
// one file at a time, chunked into w.blockSize blocks. Each block is
// compressed independently, falling back to a raw copy if compression
// doesn't shrink it. This runs before directory/inode serialization so
// that every writerInode's dataBlocks/startBlock fields are already
// known by the time the tree is walked.
//
// Fragments (the sub-block packing of multiple small file tails into
// shared blocks) aren't implemented; every file's tail is written as
// its own short data block and the superblock is marked NO_FRAGMENTS.
func (w *Writer) writeFileData() error {
	for _, n := range w.inodes {
		if n.fileType != FileType || n.size == 0 {
			continue
		}
		if err := w.writeOneFile(n); err != nil {
			return fmt.Errorf("writing data for %s: %w", n.path, err)
		}
	}
	return nil
}

func (w *Writer) writeOneFile(n *writerInode) error {
	if n.srcFS == nil {
		return fmt.Errorf("%w: no source filesystem set for %s", ErrInvalidArg, n.path)
	}

	f, err := n.srcFS.Open(n.path)
	if err != nil {
		return err
	}
	defer f.Close()

	n.startBlock = w.offset
	buf := make([]byte, w.blockSize)

	for remaining := n.size; remaining > 0; {
		want := uint64(w.blockSize)
		if remaining < want {
			want = remaining
		}
		chunk := buf[:want]
		if _, err := io.ReadFull(f, chunk); err != nil {
			return err
		}
		remaining -= want

		comp, cErr := w.comp.compress(chunk)

		var out []byte
		var size uint32
		if cErr == nil && len(comp) < len(chunk) {
			out = comp
			size = uint32(len(comp))
		} else {
			out = chunk
			size = uint32(len(chunk)) | blockCompressedFlag
		}

		if err := w.write(out); err != nil {
			return err
		}
		n.dataBlocks = append(n.dataBlocks, size)
	}

	return nil
}
