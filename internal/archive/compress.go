package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/git-pkgs/hkg/internal/core"
)

// Compression identifies the stream compression wrapped around the tar
// container. Unpack detects it from the leading magic bytes, so archives
// built with any supported compression install the same way.
type Compression string

const (
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
	LZ4  Compression = "lz4"
	None Compression = "none"
)

// DefaultCompression is used when no compression is configured.
const DefaultCompression = Gzip

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// tar headers carry "ustar" at this offset in every format the writer emits.
const ustarOffset = 257

// ParseCompression parses a compression name. The empty string selects
// DefaultCompression.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "":
		return DefaultCompression, nil
	case Gzip, Zstd, LZ4, None:
		return Compression(name), nil
	}
	return "", fmt.Errorf("unknown compression %q (want gzip, zstd, lz4 or none)", name)
}

// Detect reports the compression of an archive from its leading bytes.
func Detect(data []byte) (Compression, error) {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		return Gzip, nil
	case bytes.HasPrefix(data, zstdMagic):
		return Zstd, nil
	case bytes.HasPrefix(data, lz4Magic):
		return LZ4, nil
	case len(data) >= ustarOffset+5 && string(data[ustarOffset:ustarOffset+5]) == "ustar":
		return None, nil
	}
	return "", fmt.Errorf("%w: unrecognized container format", core.ErrCorruptArchive)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case LZ4:
		return lz4.NewWriter(w), nil
	case None:
		return nopWriteCloser{w}, nil
	}
	return nil, fmt.Errorf("unsupported compression %q", c)
}

// decompressor returns a reader over the tar stream inside data and a
// function releasing any decoder resources.
func decompressor(data []byte) (io.Reader, func(), error) {
	c, err := Detect(data)
	if err != nil {
		return nil, nil, err
	}
	r := bytes.NewReader(data)
	switch c {
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: gzip: %w", core.ErrCorruptArchive, err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zstd: %w", core.ErrCorruptArchive, err)
		}
		return zr, zr.Close, nil
	case LZ4:
		return lz4.NewReader(r), func() {}, nil
	}
	return r, func() {}, nil
}
