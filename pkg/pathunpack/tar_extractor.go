package pathunpack

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

type tarExtractor struct {
	*entryWriter
	codec codec
}

func (e *tarExtractor) Extract(ctx context.Context, absArchiveFilePath, absExtractTargetPath string) error {
	f, err := os.Open(absArchiveFilePath)
	if err != nil {
		return fmt.Errorf("failed to open tar file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(&extractMetricReader{r: f, metrics: e.metrics}, e.bufferPool.Size())
	dr, err := newDecompressor(e.codec, br)
	if err != nil {
		return err
	}
	defer dr.Close()

	tr := tar.NewReader(dr)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		e.metrics.AddEntriesProcessed(1)

		// Security: Zip Slip protection.
		absTarget, err := util.SecureJoin(absExtractTargetPath, header.Name)
		if err != nil {
			return illegalPath(header.Name, err)
		}
		isRoot := absTarget == absExtractTargetPath

		// Security: Perm() drops SUID, SGID and sticky bits.
		perm := os.FileMode(header.Mode).Perm()

		switch header.Typeflag {
		case tar.TypeDir:
			if isRoot {
				continue // "./" entries describe the extraction root itself.
			}
			if err := e.makeDir(absTarget, perm, header.ModTime); err != nil {
				return err
			}
		case tar.TypeReg:
			if isRoot {
				return illegalPath(header.Name, fmt.Errorf("%w: entry resolves to the extraction root", util.ErrPathEscapesBase))
			}
			if err := e.writeFile(absTarget, tr, perm, header.ModTime, header.AccessTime); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if isRoot {
				return illegalPath(header.Name, fmt.Errorf("%w: entry resolves to the extraction root", util.ErrPathEscapesBase))
			}
			if err := e.writeSymlink(absExtractTargetPath, absTarget, header.Name, header.Linkname, header.ModTime); err != nil {
				return err
			}
		case tar.TypeLink:
			if isRoot {
				return illegalPath(header.Name, fmt.Errorf("%w: entry resolves to the extraction root", util.ErrPathEscapesBase))
			}
			if err := e.writeHardlink(absExtractTargetPath, absTarget, header.Name, header.Linkname, header.ModTime); err != nil {
				return err
			}
		default:
			plog.Debug("Skipping unsupported tar entry", "name", header.Name, "type", string(header.Typeflag))
		}
	}
}
