package squashfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrInvalidFile is returned when the file format is not recognized as SquashFS
	ErrInvalidFile = errors.New("invalid file, squashfs signature not found")

	// ErrInvalidSuper is returned when the superblock data is corrupted or invalid
	ErrInvalidSuper = errors.New("invalid squashfs superblock")

	// ErrInvalidVersion is returned when the SquashFS version is not 4.0
	// This library only supports SquashFS 4.0 format
	ErrInvalidVersion = errors.New("invalid file version, expected squashfs 4.0")

	// ErrInodeNotExported is returned when trying to access an inode that isn't in the export table
	ErrInodeNotExported = errors.New("unknown squashfs inode and no NFS export table")

	// ErrNotDirectory is returned when attempting to perform directory operations on a non-directory
	ErrNotDirectory = errors.New("not a directory")

	// ErrTooManySymlinks is returned when symlink resolution exceeds the maximum depth
	// This prevents infinite loops in symlink resolution
	ErrTooManySymlinks = errors.New("too many levels of symbolic links")

	// Writer-side categorical errors (spec §7). These are deliberately
	// generic - wrap them with fmt.Errorf("...: %w", ErrX) for context
	// rather than inventing new sentinels per call site.

	// ErrAlloc is returned when the id table runs out of 16-bit
	// indices (more than 65536 distinct uid/gid values).
	ErrAlloc = errors.New("allocation failed")

	// ErrUnsupported is returned for unknown inode type tags, mode bits
	// that don't map to a SquashFS file type, or a compression id with
	// no registered codec.
	ErrUnsupported = errors.New("unsupported")

	// ErrInvalidArg is returned for invalid caller input, such as an
	// inode number of zero or a regular file added with no source
	// filesystem set.
	ErrInvalidArg = errors.New("invalid argument")

	// ErrCorrupted is the category for an intermediate structure that
	// fails an internal consistency check. No code path in this package
	// returns it: block sizes are held as a []uint32, so a payload whose
	// length isn't a multiple of 4 cannot occur.
	ErrCorrupted = errors.New("corrupted data")

	// ErrInternal is the category for invariant violations. No code
	// path in this package returns it; in particular the serialization
	// order is not checked, since numberTree builds it itself in
	// children-before-parents order.
	ErrInternal = errors.New("internal invariant violation")
)
