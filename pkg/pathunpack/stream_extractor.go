package pathunpack

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

// streamExtractor decompresses a single-stream file (foo.txt.gz) into one
// output file named after the archive minus its compression suffix.
type streamExtractor struct {
	*entryWriter
	codec  codec
	suffix string
}

func (e *streamExtractor) Extract(ctx context.Context, absArchiveFilePath, absExtractTargetPath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	outName, err := streamOutputName(absArchiveFilePath, e.suffix)
	if err != nil {
		return err
	}
	absTarget := filepath.Join(absExtractTargetPath, outName)

	f, err := os.Open(absArchiveFilePath)
	if err != nil {
		return fmt.Errorf("failed to open compressed file: %w", err)
	}
	defer f.Close()

	// The output inherits the archive's modification time, which also drives overwrite=if-newer.
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat compressed file: %w", err)
	}

	br := bufio.NewReaderSize(&extractMetricReader{r: f, metrics: e.metrics}, e.bufferPool.Size())
	dr, err := newDecompressor(e.codec, br)
	if err != nil {
		return err
	}
	defer dr.Close()

	e.metrics.AddEntriesProcessed(1)
	return e.writeFile(absTarget, &ctxReader{ctx: ctx, r: dr}, util.UserWritableFilePerms, info.ModTime(), time.Time{})
}

// streamOutputName strips the matched compression suffix from the archive's base name.
func streamOutputName(absArchiveFilePath, suffix string) (string, error) {
	base := filepath.Base(absArchiveFilePath)
	if len(suffix) > len(base) {
		return "", fmt.Errorf("suffix %q does not belong to %q", suffix, base)
	}
	name := base[:len(base)-len(suffix)]
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("cannot derive output name from %q", base)
	}
	return name, nil
}

// ctxReader aborts a long single-stream copy once ctx is canceled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
