package pathunpack

import (
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// newDecompressor wraps r with the decoder for c. The returned reader must be
// closed by the caller; closing it does not close r.
func newDecompressor(c codec, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case codecNone:
		return io.NopCloser(r), nil
	case codecGzip:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, nil
	case codecBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case codecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case codecXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return io.NopCloser(xr), nil
	case codecLz4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unknown codec: %d", c)
	}
}
