// Package pathunpack extracts archives found on disk into target directories.
//
// Format selection is driven purely by the file name: an ordered suffix table
// maps each name to a container (zip, tar) or a single compressed stream, and
// the matching decoder is delegated to archive/zip, archive/tar and the
// codec libraries. Every entry path is resolved beneath the extraction
// directory before anything is written; entries that would escape it fail the
// whole archive with ErrIllegalPath.
//
// Failures are contained per archive. Unpack logs and counts them and moves
// on; only cancellation stops the run.
package pathunpack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-unpack/pkg/hints"
	"github.com/paulschiretz/pgl-unpack/pkg/pathunpackmetrics"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/pool"
	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

var (
	// ErrUnsupportedFormat is returned (as a hint) for files whose suffix is not in the format table.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrIllegalPath is returned when an archive entry would be written outside the extraction directory.
	ErrIllegalPath = errors.New("illegal file path in archive")
	// ErrNothingToExtract is a hint returned by Unpack when it receives no jobs.
	ErrNothingToExtract = hints.New("no archives to extract")
)

// Job pairs one archive with the directory it is extracted into.
type Job struct {
	AbsArchivePath string
	AbsOutputDir   string
}

type PathUnpacker struct {
	ioBufferPool *pool.FixedBufferPool
	numWorkers   int
}

// NewPathUnpacker creates a new PathUnpacker. numWorkers below one means a single,
// strictly sequential worker.
func NewPathUnpacker(bufferSizeKB int, numWorkers int) *PathUnpacker {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &PathUnpacker{
		ioBufferPool: pool.NewFixedBufferPool(bufferSizeKB),
		numWorkers:   numWorkers,
	}
}

// Extract extracts a single archive into absOutputDir, creating the directory if
// needed. It returns a hint wrapping ErrUnsupportedFormat for unknown suffixes
// without touching the filesystem. The archive itself is only ever read.
func (u *PathUnpacker) Extract(ctx context.Context, absArchivePath, absOutputDir string, p *Plan) error {
	return u.extract(ctx, Job{AbsArchivePath: absArchivePath, AbsOutputDir: absOutputDir}, p, &pathunpackmetrics.NoopMetrics{}, nil)
}

// Unpack extracts every job. With one worker the jobs run in order, so in a
// shared output directory later archives overwrite earlier ones. Individual
// failures are logged and counted; the returned error is non-nil only for
// cancellation or an empty job list (ErrNothingToExtract).
func (u *PathUnpacker) Unpack(ctx context.Context, jobs []Job, p *Plan) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if len(jobs) == 0 {
		if p.DryRun {
			plog.Debug("[DRY RUN] No archives need extracting")
		} else {
			plog.Debug("No archives need extracting")
		}
		return ErrNothingToExtract
	}

	var m pathunpackmetrics.Metrics
	if p.Metrics {
		m = &pathunpackmetrics.ExtractionMetrics{}
	} else {
		// Use the No-op implementation if metrics are disabled.
		m = &pathunpackmetrics.NoopMetrics{}
	}

	t := &task{
		PathUnpacker: u,
		ctx:          ctx,
		jobs:         jobs,
		plan:         p,
		metrics:      m,
		sources:      statArchives(jobs),
	}
	return t.execute()
}

// statArchives returns the file info of every archive in jobs. An archive
// written by another job's entries would otherwise be replaced before (or
// while) it is extracted itself.
func statArchives(jobs []Job) []os.FileInfo {
	infos := make([]os.FileInfo, 0, len(jobs))
	for _, j := range jobs {
		if info, err := os.Stat(j.AbsArchivePath); err == nil {
			infos = append(infos, info)
		}
	}
	return infos
}

// extract unpacks one job. sources lists archives that no entry may replace;
// the job's own archive is always protected.
func (u *PathUnpacker) extract(ctx context.Context, j Job, p *Plan, m pathunpackmetrics.Metrics, sources []os.FileInfo) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	format, suffix := DetectFormat(j.AbsArchivePath)
	if format == Unsupported {
		return hints.Newf("%w: %s", ErrUnsupportedFormat, j.AbsArchivePath)
	}

	absArchivePath, err := filepath.Abs(j.AbsArchivePath)
	if err != nil {
		return fmt.Errorf("could not determine absolute archive path: %w", err)
	}
	absOutputDir, err := filepath.Abs(j.AbsOutputDir)
	if err != nil {
		return fmt.Errorf("could not determine absolute output path: %w", err)
	}

	if p.DryRun {
		plog.Notice("[DRY RUN] EXTRACT", "source", absArchivePath, "target", absOutputDir, "format", format)
		return nil
	}

	archiveInfo, err := os.Stat(absArchivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	if err := os.MkdirAll(absOutputDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", absOutputDir, err)
	}
	root, err := os.OpenRoot(absOutputDir)
	if err != nil {
		return fmt.Errorf("failed to open output directory %s: %w", absOutputDir, err)
	}
	defer root.Close()

	w := &entryWriter{
		bufferPool: u.ioBufferPool,
		metrics:    m,
		overwrite:  p.Overwrite,
		absBase:    absOutputDir,
		root:       root,
		sources:    append([]os.FileInfo{archiveInfo}, sources...),
	}
	extr, err := newExtractor(format, suffix, w)
	if err != nil {
		return err
	}

	plog.Notice("EXTRACT", "source", absArchivePath, "target", absOutputDir, "format", format)
	err = extr.Extract(ctx, absArchivePath, absOutputDir)
	w.restoreDirTimes()
	if err != nil {
		return fmt.Errorf("extract %s (%s): %w", absArchivePath, format, err)
	}
	return nil
}
