package archive

import (
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// codec identifies the compression wrapping a tarball.
type codec int

const (
	codecTar codec = iota
	codecGzip
	codecXz
	codecBzip2
	codecZstd
)

// detectCodec maps a filename suffix to a codec, per spec: gzip, xz, bzip2,
// and zstandard, plus a bare uncompressed .tar.
func detectCodec(path string) (codec, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return codecGzip, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return codecXz, nil
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return codecBzip2, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return codecZstd, nil
	case strings.HasSuffix(lower, ".tar"):
		return codecTar, nil
	default:
		return 0, fmt.Errorf("%w: unrecognized archive suffix %q", ErrDecompressionFailed, path)
	}
}

// decompressor wraps r with the streaming decoder for c. None of the
// returned readers require seek on the underlying stream.
func decompressor(c codec, r io.Reader) (io.Reader, func() error, error) {
	switch c {
	case codecTar:
		return r, func() error { return nil }, nil
	case codecGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: gzip: %v", ErrDecompressionFailed, err)
		}
		return zr, zr.Close, nil
	case codecXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: xz: %v", ErrDecompressionFailed, err)
		}
		return xr, func() error { return nil }, nil
	case codecBzip2:
		return bzip2.NewReader(r), func() error { return nil }, nil
	case codecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zstd: %v", ErrDecompressionFailed, err)
		}
		return zr, func() error { zr.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown codec", ErrDecompressionFailed)
	}
}
