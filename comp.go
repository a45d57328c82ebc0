package squashfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Compression identifies the algorithm used to compress metadata and
// data blocks, as stored in the superblock's Comp field.
type Compression uint16

const (
	GZip Compression = 1 // zlib-wrapped deflate, despite the name
	LZMA Compression = 2
	LZO  Compression = 3
	XZ   Compression = 4
	LZ4  Compression = 5
	ZSTD Compression = 6
)

func (s Compression) String() string {
	switch s {
	case GZip:
		return "GZip"
	case LZMA:
		return "LZMA"
	case LZO:
		return "LZO"
	case XZ:
		return "XZ"
	case LZ4:
		return "LZ4"
	case ZSTD:
		return "ZSTD"
	}
	return fmt.Sprintf("Compression(%d)", s)
}

// CompHandler provides the compress/decompress pair for one
// Compression id. Compress may be nil for read-only support;
// Decompress may be nil for write-only support.
type CompHandler struct {
	Compress   func([]byte) ([]byte, error)
	Decompress func(io.Reader) (io.ReadCloser, error)
}

var compHandlers = map[Compression]*CompHandler{}

// RegisterCompHandler installs (or replaces) the handler for a
// compression id. Build-tag gated files (comp_zstd.go, comp_xz.go)
// call this from init() so that optional codecs only link in when
// requested.
func RegisterCompHandler(c Compression, h *CompHandler) {
	compHandlers[c] = h
}

// RegisterDecompressor installs just the decompress side of a handler,
// preserving any Compress function already registered for c.
func RegisterDecompressor(c Compression, fn func(io.Reader) (io.ReadCloser, error)) {
	h, ok := compHandlers[c]
	if !ok {
		h = &CompHandler{}
		compHandlers[c] = h
	}
	h.Decompress = fn
}

// MakeDecompressor adapts a bare io.Reader -> io.ReadCloser factory
// (as returned by klauspost/compress/zstd.ZipDecompressor, which never
// fails eagerly) into the (io.ReadCloser, error) shape RegisterDecompressor
// expects.
func MakeDecompressor(fn func(io.Reader) io.ReadCloser) func(io.Reader) (io.ReadCloser, error) {
	return func(r io.Reader) (io.ReadCloser, error) {
		return fn(r), nil
	}
}

// MakeDecompressorErr passes through a factory that can itself fail at
// open time (xz readers validate a header up front).
func MakeDecompressorErr(fn func(io.Reader) (io.ReadCloser, error)) func(io.Reader) (io.ReadCloser, error) {
	return fn
}

func (s Compression) compress(data []byte) ([]byte, error) {
	h, ok := compHandlers[s]
	if !ok || h.Compress == nil {
		return nil, fmt.Errorf("%w: no compressor registered for %s", ErrUnsupported, s)
	}
	return h.Compress(data)
}

func (s Compression) decompress(data []byte) ([]byte, error) {
	h, ok := compHandlers[s]
	if !ok || h.Decompress == nil {
		return nil, fmt.Errorf("%w: no decompressor registered for %s", ErrUnsupported, s)
	}
	rc, err := h.Decompress(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func zlibCompress(buf []byte) ([]byte, error) {
	var out bytes.Buffer
	w := zlib.NewWriter(&out)
	if _, err := w.Write(buf); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func init() {
	// GZip (zlib) is always available - it's the format's default and
	// every other codec in this package is opt-in via build tag.
	RegisterCompHandler(GZip, &CompHandler{
		Compress: zlibCompress,
		Decompress: func(r io.Reader) (io.ReadCloser, error) {
			return zlib.NewReader(r)
		},
	})
}
