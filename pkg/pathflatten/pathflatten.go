// Package pathflatten moves every file nested beneath a directory up to its
// top level and removes the emptied subdirectories.
//
// Subdirectories are processed deepest first, siblings in lexical order. When
// two files share a basename the one processed later replaces the earlier one.
// A file whose basename is held by a directory at the time it is processed is
// parked and lands after all others.
// Failures to move a file or remove a directory are logged and counted, never
// returned: a flatten pass always runs to completion unless canceled.
package pathflatten

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-unpack/pkg/pathflattenmetrics"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/pool"
	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

type PathFlattener struct {
	ioBufferPool *pool.FixedBufferPool
}

// NewPathFlattener creates a new PathFlattener. The buffer pool is only used when
// a move crosses filesystems and has to fall back to copy and remove.
func NewPathFlattener(bufferSizeKB int) *PathFlattener {
	return &PathFlattener{
		ioBufferPool: pool.NewFixedBufferPool(bufferSizeKB),
	}
}

// subDir is a directory beneath the flatten root together with its nesting depth.
type subDir struct {
	absPath string
	depth   int
}

// Flatten moves every non-directory entry found anywhere beneath absDir to
// absDir/<basename> and then removes the subdirectories. Subdirectories are
// removed non-recursively, so a directory still holding a file that failed to
// move is left in place instead of taking the file with it.
func (f *PathFlattener) Flatten(ctx context.Context, absDir string, p *Plan) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	absDir = filepath.Clean(absDir)
	info, err := os.Stat(absDir)
	if err != nil {
		return fmt.Errorf("failed to stat flatten directory %s: %w", absDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("flatten target %s is not a directory", absDir)
	}

	absDir = util.ResolveRootSymlink(absDir)

	dirs, err := listSubDirs(absDir)
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		plog.Debug("Nothing to flatten", "path", absDir)
		return nil
	}

	var m pathflattenmetrics.Metrics
	if p.Metrics {
		m = &pathflattenmetrics.FlattenMetrics{}
	} else {
		m = &pathflattenmetrics.NoopMetrics{}
	}
	m.StartProgress("Flatten progress", 10*time.Second)
	defer func() {
		m.StopProgress()
		m.LogSummary("Flatten finished")
	}()

	plog.Info("Flattening directory", "path", absDir, "subdirectories", len(dirs))

	// A file whose name is still held by a directory is parked under a temporary
	// name and renamed into place once every directory has been removed.
	var parked []parkedFile
	defer func() {
		for _, pf := range parked {
			unparkFile(pf, m)
		}
	}()

	for _, d := range dirs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		parked = append(parked, f.drainDir(absDir, d.absPath, p, m)...)
		removeDir(d.absPath, p, m)
	}
	return nil
}

// parkedFile is a file moved to a temporary top-level name because its real
// name was taken by a directory.
type parkedFile struct {
	src, tmp, dst string
}

// unparkFile renames a parked file to its final name. If the directory is still
// there the file keeps its temporary name.
func unparkFile(pf parkedFile, m pathflattenmetrics.Metrics) {
	if err := os.Rename(pf.tmp, pf.dst); err != nil {
		m.AddMoveFailures(1)
		plog.Warn("Failed to move file, left under a temporary name", "source", pf.src, "path", pf.tmp, "target", pf.dst, "error", err)
		return
	}
	m.AddFilesMoved(1)
	plog.Notice("MOVE", "source", pf.src, "target", pf.dst)
}

// listSubDirs returns every directory beneath absDir, deepest first. Directories
// of equal depth are ordered lexically. Symlinks to directories are not followed.
func listSubDirs(absDir string) ([]subDir, error) {
	var dirs []subDir
	err := filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == absDir {
				return err
			}
			plog.Warn("Failed to read directory while flattening", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() || path == absDir {
			return nil
		}
		rel, err := filepath.Rel(absDir, path)
		if err != nil {
			return err
		}
		dirs = append(dirs, subDir{absPath: path, depth: strings.Count(rel, string(os.PathSeparator)) + 1})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list subdirectories of %s: %w", absDir, err)
	}

	slices.SortStableFunc(dirs, func(a, b subDir) int {
		if c := cmp.Compare(b.depth, a.depth); c != 0 {
			return c
		}
		return cmp.Compare(a.absPath, b.absPath)
	})
	return dirs, nil
}

// drainDir moves the non-directory entries of one subdirectory to the top level.
// Entries whose target name is currently a directory are parked and returned.
func (f *PathFlattener) drainDir(absDir, absSubDir string, p *Plan, m pathflattenmetrics.Metrics) []parkedFile {
	entries, err := os.ReadDir(absSubDir)
	if err != nil {
		plog.Warn("Failed to list directory for flattening", "path", absSubDir, "error", err)
		return nil
	}

	var parked []parkedFile
	for _, e := range entries {
		if e.IsDir() {
			// Only present here if its own removal failed earlier.
			continue
		}
		src := filepath.Join(absSubDir, e.Name())
		dst := filepath.Join(absDir, e.Name())

		if slices.Contains(p.ProtectedNames, e.Name()) {
			m.AddMoveFailures(1)
			plog.Warn("Leaving file in place, its name is reserved", "path", src)
			continue
		}

		if p.DryRun {
			plog.Notice("[DRY RUN] MOVE", "source", src, "target", dst)
			continue
		}

		if info, err := os.Lstat(dst); err == nil && info.IsDir() {
			pf, err := f.park(absDir, src, dst)
			if err != nil {
				m.AddMoveFailures(1)
				plog.Warn("Failed to move file", "source", src, "target", dst, "error", err)
				continue
			}
			plog.Debug("Target name is a directory, parked file until it is removed", "source", src, "path", pf.tmp)
			parked = append(parked, pf)
			continue
		}

		f.moveFile(src, dst, m)
	}
	return parked
}

// park moves src to a fresh temporary name in absDir.
func (f *PathFlattener) park(absDir, src, dst string) (parkedFile, error) {
	tmp, err := os.CreateTemp(absDir, ".pgl-unpack-flatten-*")
	if err != nil {
		return parkedFile{}, fmt.Errorf("failed to reserve temporary name: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	if err := f.move(src, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return parkedFile{}, err
	}
	return parkedFile{src: src, tmp: tmpPath, dst: dst}, nil
}

// moveFile moves one file to the top level and records the outcome.
func (f *PathFlattener) moveFile(src, dst string, m pathflattenmetrics.Metrics) {
	if _, err := os.Lstat(dst); err == nil {
		m.AddFilesOverwritten(1)
		plog.Debug("Overwriting file with the same name", "path", dst, "source", src)
	}

	if err := f.move(src, dst); err != nil {
		m.AddMoveFailures(1)
		plog.Warn("Failed to move file", "source", src, "target", dst, "error", err)
		return
	}
	m.AddFilesMoved(1)
	plog.Notice("MOVE", "source", src, "target", dst)
}

func removeDir(absSubDir string, p *Plan, m pathflattenmetrics.Metrics) {
	if p.DryRun {
		plog.Notice("[DRY RUN] REMOVE", "path", absSubDir)
		return
	}
	if err := os.Remove(absSubDir); err != nil {
		m.AddRemoveFailures(1)
		plog.Warn("Failed to remove directory", "path", absSubDir, "error", err)
		return
	}
	m.AddDirsRemoved(1)
	plog.Notice("REMOVE", "path", absSubDir)
}

// move renames src to dst, replacing dst. Regular files are copied and the
// source removed when the rename crosses a filesystem boundary.
func (f *PathFlattener) move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !isCrossDevice(err) {
		return err
	}

	info, statErr := os.Lstat(src)
	if statErr != nil {
		return errors.Join(err, statErr)
	}
	if !info.Mode().IsRegular() {
		return err
	}
	if err := f.copyFile(src, dst, info); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile copies src to a temporary file next to dst and renames it into place.
func (f *PathFlattener) copyFile(src, dst string, info os.FileInfo) (retErr error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), "pgl-unpack-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", filepath.Dir(dst), err)
	}
	absTempPath := out.Name()
	defer func() {
		if retErr != nil {
			os.Remove(absTempPath)
		}
	}()

	bufPtr := f.ioBufferPool.Get()
	_, copyErr := io.CopyBuffer(out, in, *bufPtr)
	f.ioBufferPool.Put(bufPtr)
	if copyErr != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, copyErr)
	}
	if err := out.Chmod(util.WithUserWritePermission(info.Mode().Perm())); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chtimes(absTempPath, info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return os.Rename(absTempPath, dst)
}
