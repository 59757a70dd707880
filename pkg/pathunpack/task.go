package pathunpack

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-unpack/pkg/hints"
	"github.com/paulschiretz/pgl-unpack/pkg/pathunpackmetrics"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
)

// task holds the mutable state for a single Unpack execution.
// This makes the PathUnpacker itself stateless and safe for concurrent use.
type task struct {
	*PathUnpacker
	ctx     context.Context
	jobs    []Job
	plan    *Plan
	metrics pathunpackmetrics.Metrics
	sources []os.FileInfo
}

// execute feeds the jobs to a bounded group of workers. With a limit of one,
// Go blocks until the previous job finished, so jobs run strictly in order.
func (t *task) execute() error {
	plog.Info("Extracting archives", "count", len(t.jobs), "workers", t.numWorkers)

	// Start progress reporting
	t.metrics.StartProgress("Extraction progress", 10*time.Second)
	defer func() {
		t.metrics.StopProgress()
		t.metrics.LogSummary("Extraction finished")
	}()

	var g errgroup.Group
	g.SetLimit(t.numWorkers)

	for _, j := range t.jobs {
		if t.ctx.Err() != nil {
			plog.Debug("Cancellation received, stopping extraction job feeding.")
			break
		}
		g.Go(func() error {
			t.process(j)
			return nil
		})
	}

	// Workers never fail the group; per-archive errors are logged in process.
	_ = g.Wait()
	return t.ctx.Err()
}

// process extracts one archive and reports the outcome.
func (t *task) process(j Job) {
	err := t.extract(t.ctx, j, t.plan, t.metrics, t.sources)
	switch {
	case err == nil:
		t.metrics.AddArchivesExtracted(1)
		if t.plan.DryRun {
			return
		}
		plog.Info("EXTRACTED", "source", j.AbsArchivePath, "target", j.AbsOutputDir)
	case hints.IsHint(err):
		t.metrics.AddArchivesSkipped(1)
		plog.Info("Skipping unsupported archive", "path", j.AbsArchivePath)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		plog.Debug("Extraction was canceled", "path", j.AbsArchivePath)
	default:
		// A failure to extract a single archive is logged as a warning but does not
		// stop the overall process.
		t.metrics.AddArchivesFailed(1)
		plog.Warn("Failed to extract archive", "archive", j.AbsArchivePath, "error", err)
	}
}
