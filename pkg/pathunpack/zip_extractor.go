package pathunpack

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/flate"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

type zipExtractor struct {
	*entryWriter
}

func (e *zipExtractor) Extract(ctx context.Context, absArchiveFilePath, absExtractTargetPath string) error {
	f, err := os.Open(absArchiveFilePath)
	if err != nil {
		return fmt.Errorf("failed to open zip file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat zip file: %w", err)
	}

	// ErrInsecurePath comes with a usable reader; SecureJoin below rejects the offending entry.
	r, err := zip.NewReader(&extractMetricReaderAt{r: f, metrics: e.metrics}, info.Size())
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("failed to create zip reader: %w", err)
	}
	r.RegisterDecompressor(zip.Deflate, flate.NewReader)

	for _, zf := range r.File {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e.metrics.AddEntriesProcessed(1)

		// Security: Zip Slip protection.
		absTarget, err := util.SecureJoin(absExtractTargetPath, zf.Name)
		if err != nil {
			return illegalPath(zf.Name, err)
		}
		isRoot := absTarget == absExtractTargetPath

		if zf.FileInfo().IsDir() {
			if isRoot {
				continue
			}
			if err := e.makeDir(absTarget, zf.Mode().Perm(), zf.Modified); err != nil {
				return err
			}
			continue
		}

		if isRoot {
			return illegalPath(zf.Name, fmt.Errorf("%w: entry resolves to the extraction root", util.ErrPathEscapesBase))
		}

		if zf.Mode()&os.ModeSymlink != 0 {
			if err := e.extractSymlink(zf, absExtractTargetPath, absTarget); err != nil {
				return err
			}
			continue
		}

		if !zf.Mode().IsRegular() {
			plog.Debug("Skipping non-regular zip entry", "name", zf.Name, "mode", zf.Mode())
			continue
		}

		if err := e.extractFile(zf, absTarget); err != nil {
			return err
		}
	}
	return nil
}

func (e *zipExtractor) extractFile(zf *zip.File, absTarget string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry %s: %w", zf.Name, err)
	}
	defer rc.Close()

	// Security: Strip SUID and SGID bits to prevent privilege escalation.
	perm := zf.Mode().Perm()
	return e.writeFile(absTarget, rc, perm, zf.Modified, zf.Modified)
}

func (e *zipExtractor) extractSymlink(zf *zip.File, absBase, absTarget string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry %s: %w", zf.Name, err)
	}
	linkTarget, err := io.ReadAll(io.LimitReader(rc, maxSymlinkTargetLen))
	rc.Close()
	if err != nil {
		return err
	}
	return e.writeSymlink(absBase, absTarget, zf.Name, string(linkTarget), zf.Modified)
}
