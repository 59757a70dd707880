package pathunpack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-unpack/pkg/pathunpackmetrics"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/pool"
	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

// maxSymlinkTargetLen bounds how much of a zip symlink entry is read as its target.
const maxSymlinkTargetLen = 4096

// extractor defines the interface for extracting one archive into a target directory.
type extractor interface {
	Extract(ctx context.Context, absArchiveFilePath, absExtractTargetPath string) error
}

// newExtractor returns the correct implementation based on the format.
// suffix is the matched file name suffix, used by single-stream formats to name their output.
func newExtractor(format Format, suffix string, w *entryWriter) (extractor, error) {
	switch {
	case format == Zip:
		return &zipExtractor{entryWriter: w}, nil
	case format.IsTar():
		return &tarExtractor{entryWriter: w, codec: format.codec()}, nil
	case format.IsStream():
		return &streamExtractor{entryWriter: w, codec: format.codec(), suffix: suffix}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// entryWriter holds what every extractor needs to put entries on disk.
//
// Every filesystem call goes through root, so a symlink created by an earlier
// entry can never redirect a later write outside the extraction directory.
type entryWriter struct {
	bufferPool *pool.FixedBufferPool
	metrics    pathunpackmetrics.Metrics
	overwrite  OverwriteBehavior

	absBase string
	root    *os.Root
	// sources are the archives of the current run. They are never replaced.
	sources []os.FileInfo
	dirs    []dirMeta
}

// dirMeta is a directory entry whose mtime is restored once the archive is done.
type dirMeta struct {
	name    string
	modTime time.Time
}

// illegalPath wraps a path-safety violation so callers can match ErrIllegalPath.
func illegalPath(name string, err error) error {
	return fmt.Errorf("%w %q: %w", ErrIllegalPath, name, err)
}

// rel returns absTarget relative to the extraction root.
func (w *entryWriter) rel(absTarget string) (string, error) {
	name, err := filepath.Rel(w.absBase, absTarget)
	if err != nil {
		return "", err
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", util.ErrPathEscapesBase, absTarget)
	}
	return name, nil
}

func (w *entryWriter) makeParents(name string) error {
	dir := filepath.Dir(name)
	if dir == "." {
		return nil
	}
	return w.root.MkdirAll(dir, util.UserWritableDirPerms)
}

// makeDir creates a directory entry and applies its mode. Owner read, write and
// execute bits are kept so later entries can be written beneath it. The mtime is
// applied by restoreDirTimes after the last entry.
func (w *entryWriter) makeDir(absTarget string, perm os.FileMode, modTime time.Time) error {
	name, err := w.rel(absTarget)
	if err != nil {
		return err
	}
	perm = util.WithUserExecutePermission(util.WithUserWritePermission(perm | util.PermUserRead))
	if err := w.root.MkdirAll(name, perm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", absTarget, err)
	}
	// MkdirAll leaves directories created by earlier file entries untouched.
	if err := w.root.Chmod(name, perm); err != nil {
		plog.Debug("Failed to apply directory mode", "path", absTarget, "error", err)
	}
	if !modTime.IsZero() {
		w.dirs = append(w.dirs, dirMeta{name: name, modTime: modTime})
	}
	return nil
}

// restoreDirTimes applies the recorded directory mtimes in reverse creation order.
func (w *entryWriter) restoreDirTimes() {
	for i := len(w.dirs) - 1; i >= 0; i-- {
		d := w.dirs[i]
		if err := w.root.Chtimes(d.name, d.modTime, d.modTime); err != nil {
			plog.Debug("Failed to restore directory modification time", "path", filepath.Join(w.absBase, d.name), "error", err)
		}
	}
	w.dirs = nil
}

// writeFile streams r into absTarget, honouring the overwrite behavior.
// A partially written file is removed when the copy fails.
func (w *entryWriter) writeFile(absTarget string, r io.Reader, perm os.FileMode, modTime, accessTime time.Time) error {
	name, err := w.rel(absTarget)
	if err != nil {
		return err
	}
	if err := w.makeParents(name); err != nil {
		return err
	}

	shouldWrite, err := w.prepareTarget(absTarget, name, modTime)
	if err != nil {
		return err
	}
	if !shouldWrite {
		return nil
	}

	// Archives may carry mode 0000; the owner always gets read and write.
	perm = util.WithUserWritePermission(perm | util.PermUserRead)
	outFile, err := w.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	bufPtr := w.bufferPool.Get()
	n, copyErr := io.CopyBuffer(outFile, r, *bufPtr)
	w.bufferPool.Put(bufPtr)
	w.metrics.AddBytesWritten(n)
	closeErr := outFile.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = w.root.Remove(name)
		return fmt.Errorf("failed to write %s: %w", absTarget, err)
	}

	plog.Notice("WRITE", "path", absTarget, "bytes", n)

	if !modTime.IsZero() {
		if accessTime.IsZero() {
			accessTime = modTime
		}
		if err := w.root.Chtimes(name, accessTime, modTime); err != nil {
			plog.Debug("Failed to restore modification time", "path", absTarget, "error", err)
		}
	}
	return nil
}

// writeSymlink recreates a symlink entry. Absolute targets and targets that
// resolve outside absBase are rejected.
func (w *entryWriter) writeSymlink(absBase, absTarget, name, linkTarget string, modTime time.Time) error {
	normTarget := util.NormalizePath(linkTarget)
	if linkTarget == "" || path.IsAbs(normTarget) || filepath.IsAbs(linkTarget) {
		return illegalPath(name, fmt.Errorf("%w: symlink target %q", util.ErrPathEscapesBase, linkTarget))
	}
	resolved := filepath.Join(filepath.Dir(absTarget), util.DenormalizePath(normTarget))
	if !util.IsWithin(filepath.Clean(absBase), resolved) {
		return illegalPath(name, fmt.Errorf("%w: symlink target %q", util.ErrPathEscapesBase, linkTarget))
	}

	relName, err := w.rel(absTarget)
	if err != nil {
		return err
	}
	if err := w.makeParents(relName); err != nil {
		return err
	}
	shouldWrite, err := w.prepareTarget(absTarget, relName, modTime)
	if err != nil {
		return err
	}
	if !shouldWrite {
		return nil
	}
	if err := w.root.Symlink(linkTarget, relName); err != nil {
		return err
	}
	plog.Notice("SYMLINK", "path", absTarget, "target", linkTarget)
	return nil
}

// writeHardlink recreates a hard link entry whose target was extracted earlier.
func (w *entryWriter) writeHardlink(absBase, absTarget, name, linkName string, modTime time.Time) error {
	absLinkTarget, err := util.SecureJoin(absBase, linkName)
	if err != nil {
		return illegalPath(name, err)
	}
	oldName, err := w.rel(absLinkTarget)
	if err != nil {
		return illegalPath(name, err)
	}

	newName, err := w.rel(absTarget)
	if err != nil {
		return err
	}
	if err := w.makeParents(newName); err != nil {
		return err
	}
	shouldWrite, err := w.prepareTarget(absTarget, newName, modTime)
	if err != nil {
		return err
	}
	if !shouldWrite {
		return nil
	}
	if err := w.root.Link(oldName, newName); err != nil {
		return err
	}
	plog.Notice("HARDLINK", "path", absTarget, "target", absLinkTarget)
	return nil
}

// extractMetricReader wraps an io.Reader and updates metrics on every read.
type extractMetricReader struct {
	r       io.Reader
	metrics pathunpackmetrics.Metrics
}

func (mr *extractMetricReader) Read(p []byte) (n int, err error) {
	n, err = mr.r.Read(p)
	if n > 0 {
		mr.metrics.AddBytesRead(int64(n))
	}
	return
}

// extractMetricReaderAt wraps an io.ReaderAt and updates metrics on every read.
type extractMetricReaderAt struct {
	r       io.ReaderAt
	metrics pathunpackmetrics.Metrics
}

func (mr *extractMetricReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	n, err = mr.r.ReadAt(p, off)
	if n > 0 {
		mr.metrics.AddBytesRead(int64(n))
	}
	return
}
