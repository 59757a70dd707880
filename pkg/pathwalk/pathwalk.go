// Package pathwalk finds archive files beneath a directory tree.
package pathwalk

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-unpack/pkg/pathunpack"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

// Archives walks absRoot in lexical order and yields the absolute path of every
// regular file (or symlink to a regular file) whose name carries a supported
// archive suffix. Directory symlinks below the root are not followed; a root
// that is itself a symlink to a directory is walked.
//
// Errors for unreadable entries are yielded with an empty path; the walk
// continues past them unless the consumer stops iterating.
func Archives(ctx context.Context, absRoot string, p *Plan) iter.Seq2[string, error] {
	absRoot = filepath.Clean(absRoot)
	excluded := make(map[string]struct{}, len(p.ExcludeDirs))
	for _, d := range p.ExcludeDirs {
		excluded[filepath.Clean(d)] = struct{}{}
	}

	return func(yield func(string, error) bool) {
		// A symlinked root is walked at its target; yielded paths stay under absRoot.
		walkRoot := util.ResolveRootSymlink(absRoot)

		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if walkRoot != absRoot {
				if rel, relErr := filepath.Rel(walkRoot, path); relErr == nil {
					path = filepath.Join(absRoot, rel)
				}
			}
			if err != nil {
				if !yield("", fmt.Errorf("failed to read %s: %w", path, err)) {
					return fs.SkipAll
				}
				// WalkDir already skips a directory it could not read.
				return nil
			}

			if d.IsDir() {
				if _, ok := excluded[path]; ok && path != absRoot {
					plog.Debug("Skipping excluded directory", "path", path)
					return fs.SkipDir
				}
				return nil
			}

			if !pathunpack.IsArchiveName(d.Name()) {
				return nil
			}

			if !d.Type().IsRegular() {
				if d.Type()&os.ModeSymlink == 0 {
					return nil
				}
				info, err := os.Stat(path)
				if err != nil {
					plog.Debug("Skipping broken symlink", "path", path, "error", err)
					return nil
				}
				if !info.Mode().IsRegular() {
					return nil
				}
			}

			if !yield(path, nil) {
				return fs.SkipAll
			}
			return nil
		}
		_ = filepath.WalkDir(walkRoot, fn)
	}
}

// Collect drains Archives into a slice. Walk errors are logged as warnings and
// skipped. The returned error is non-nil only when ctx was canceled.
func Collect(ctx context.Context, absRoot string, p *Plan) ([]string, error) {
	var archives []string
	for path, err := range Archives(ctx, absRoot, p) {
		if err != nil {
			plog.Warn("Skipping unreadable path", "error", err)
			continue
		}
		plog.Debug("Found archive", "path", path)
		archives = append(archives, path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return archives, nil
}
