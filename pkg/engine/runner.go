package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-unpack/pkg/buildinfo"
	"github.com/paulschiretz/pgl-unpack/pkg/lockfile"
	"github.com/paulschiretz/pgl-unpack/pkg/pathflatten"
	"github.com/paulschiretz/pgl-unpack/pkg/pathunpack"
	"github.com/paulschiretz/pgl-unpack/pkg/pathwalk"
	"github.com/paulschiretz/pgl-unpack/pkg/planner"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/preflight"
)

// --- ARCHITECTURAL OVERVIEW ---
//
// A run is a fixed pipeline of leaf workers, each owning one concern:
//
//   Preflight -> Lock -> Walk -> Extract -> Flatten (collect mode only)
//
// The walk is a snapshot: every archive is listed before the first one is
// extracted, so files produced by an extraction are never picked up again in
// the same run. Extraction failures are per archive and never abort the run;
// only preflight, lock, cancellation and flatten setup errors are fatal.
// Flattening starts after every extraction worker has returned.

// Validator runs the preflight checks of a plan.
type Validator interface {
	Run(ctx context.Context, absInput, absOutput string, p *preflight.Plan) error
}

// Unpacker extracts a batch of archives.
type Unpacker interface {
	Unpack(ctx context.Context, jobs []pathunpack.Job, p *pathunpack.Plan) error
}

// Flattener collapses a directory tree into its top level.
type Flattener interface {
	Flatten(ctx context.Context, absDir string, p *pathflatten.Plan) error
}

// Runner executes unpack plans with the leaf workers it was built with.
type Runner struct {
	validator Validator
	unpacker  Unpacker
	flattener Flattener
}

func NewRunner(v Validator, u Unpacker, f Flattener) *Runner {
	return &Runner{
		validator: v,
		unpacker:  u,
		flattener: f,
	}
}

// ExecuteInPlace extracts every archive beneath absInput into the directory
// that contains it.
func (r *Runner) ExecuteInPlace(ctx context.Context, absInput string, p *planner.UnpackPlan) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.validator.Run(ctx, absInput, "", p.Preflight); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	releaseLock, err := r.acquireLock(ctx, absInput, p.Lock)
	if err != nil {
		return err
	}
	if releaseLock == nil {
		return nil // Another run owns the directory, exit gracefully.
	}
	defer releaseLock()

	plog.Info("Starting extraction", "input", absInput, "mode", p.Mode)

	archives, err := pathwalk.Collect(ctx, absInput, p.Walk)
	if err != nil {
		return fmt.Errorf("error during walk: %w", err)
	}

	jobs := make([]pathunpack.Job, 0, len(archives))
	for _, a := range archives {
		jobs = append(jobs, pathunpack.Job{AbsArchivePath: a, AbsOutputDir: filepath.Dir(a)})
	}
	if err := r.unpack(ctx, jobs, p.Extract); err != nil {
		return err
	}

	plog.Info("Extraction completed", "archives", len(archives))
	return nil
}

// ExecuteCollect extracts every archive beneath absInput into absOutput and,
// when the plan asks for it, flattens absOutput afterwards.
func (r *Runner) ExecuteCollect(ctx context.Context, absInput, absOutput string, p *planner.UnpackPlan) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.validator.Run(ctx, absInput, absOutput, p.Preflight); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	releaseLock, err := r.acquireLock(ctx, absOutput, p.Lock)
	if err != nil {
		return err
	}
	if releaseLock == nil {
		return nil // Another run owns the directory, exit gracefully.
	}
	defer releaseLock()

	plog.Info("Starting extraction", "input", absInput, "output", absOutput, "mode", p.Mode)

	archives, err := pathwalk.Collect(ctx, absInput, p.Walk)
	if err != nil {
		return fmt.Errorf("error during walk: %w", err)
	}

	jobs := make([]pathunpack.Job, 0, len(archives))
	for _, a := range archives {
		jobs = append(jobs, pathunpack.Job{AbsArchivePath: a, AbsOutputDir: absOutput})
	}
	if err := r.unpack(ctx, jobs, p.Extract); err != nil {
		return err
	}

	if p.Flatten != nil {
		if p.DryRun {
			if _, err := os.Stat(absOutput); os.IsNotExist(err) {
				plog.Debug("[DRY RUN] Output directory does not exist yet, nothing to flatten", "path", absOutput)
				plog.Info("Extraction completed", "archives", len(archives))
				return nil
			}
		}
		if err := r.flattener.Flatten(ctx, absOutput, p.Flatten); err != nil {
			return fmt.Errorf("error during flatten: %w", err)
		}
	}

	plog.Info("Extraction completed", "archives", len(archives))
	return nil
}

// unpack runs the extraction step. An empty job list is not an error.
func (r *Runner) unpack(ctx context.Context, jobs []pathunpack.Job, p *pathunpack.Plan) error {
	err := r.unpacker.Unpack(ctx, jobs, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pathunpack.ErrNothingToExtract):
		plog.Info("No archives found")
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("error during extraction: %w", err)
	}
}

// acquireLock takes the run lock on absDir. It returns a release function, or
// nil together with a nil error when another run already holds the lock.
func (r *Runner) acquireLock(ctx context.Context, absDir string, enabled bool) (func(), error) {
	if !enabled {
		return func() {}, nil
	}
	runID := fmt.Sprintf("%s:%s", buildinfo.Name, absDir)

	plog.Debug("Attempting to acquire lock", "path", absDir)
	lock, err := lockfile.Acquire(ctx, absDir, runID)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			plog.Warn("Another run is already working in this directory, skipping run.", "details", lockErr.Error())
			return nil, nil
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	plog.Debug("Lock acquired successfully.")
	return lock.Release, nil
}
