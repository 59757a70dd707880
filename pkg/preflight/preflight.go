// Package preflight provides the checks that run before an extraction begins.
// Apart from creating the output directory, they do not change the system's
// state; they turn conditions that would otherwise fail half-way through a run
// into a single, user-friendly error up front.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Run executes the checks enabled in p. absOutput may be empty when the run
// has no separate output directory (in-place extraction); output checks are
// then applied to absInput.
func (v *Validator) Run(ctx context.Context, absInput, absOutput string, p *Plan) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if absOutput == "" {
		absOutput = absInput
	}

	if p.InputAccessible {
		if err := CheckInputAccessible(absInput); err != nil {
			return err
		}
	}

	if p.PathNesting {
		if err := CheckPathNesting(absInput, absOutput); err != nil {
			return err
		}
	}

	if p.OutputAccessible {
		if err := CheckOutputAccessible(absOutput); err != nil {
			return err
		}
	}

	if p.EnsureOutputExists {
		if p.DryRun {
			plog.Debug("[DRY RUN] Would create output directory", "path", absOutput)
		} else if err := os.MkdirAll(absOutput, util.UserWritableDirPerms); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", absOutput, err)
		}
	}

	if p.OutputWritable && !p.DryRun {
		if err := CheckOutputWritable(absOutput); err != nil {
			return err
		}
	}

	if p.MinFreeSpaceMB > 0 {
		checkFreeSpace(absOutput, p.MinFreeSpaceMB)
	}
	return nil
}

// CheckInputAccessible validates that the input path exists and is a directory.
func CheckInputAccessible(absInput string) error {
	info, err := os.Stat(absInput)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input directory %s does not exist", absInput)
		}
		return fmt.Errorf("cannot stat input directory %s: %w", absInput, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input path %s is not a directory", absInput)
	}
	return nil
}

// CheckPathNesting rejects an output directory that is, or contains, the input
// directory. Flattening such an output would rewrite the input tree itself.
// An output nested inside the input is allowed; the walker skips it.
func CheckPathNesting(absInput, absOutput string) error {
	in := filepath.Clean(absInput)
	out := filepath.Clean(absOutput)
	if in == out {
		return fmt.Errorf("output directory %s must differ from the input directory", out)
	}
	if util.IsWithin(out, in) {
		return fmt.Errorf("input directory %s lies inside the output directory %s", in, out)
	}
	return nil
}

// CheckOutputAccessible ensures the output path is usable before anything is written.
//
// The checks include:
//  1. On Windows, verifies that the drive or network share (e.g., "Z:", "\\Server\Share") exists.
//  2. If the output path exists, confirms it is a directory.
//  3. If it does not exist, confirms its deepest existing ancestor is a directory we can stat.
func CheckOutputAccessible(absOutput string) error {
	if err := checkVolumeExists(absOutput); err != nil {
		return err
	}

	info, err := os.Stat(absOutput)
	if os.IsNotExist(err) {
		ancestor := absOutput
		for {
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				break // Hit root
			}
			ancestor = parent
			if _, err := os.Stat(ancestor); err == nil || !os.IsNotExist(err) {
				break
			}
		}

		ancestorInfo, err := os.Stat(ancestor)
		if err != nil {
			return fmt.Errorf("cannot access ancestor directory %s: %w", ancestor, err)
		}
		if !ancestorInfo.IsDir() {
			return fmt.Errorf("ancestor path %s of output is not a directory", ancestor)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access output path: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("output path exists but is not a directory: %s", absOutput)
	}
	return nil
}

// CheckOutputWritable ensures the output directory is writable by creating and
// deleting a probe file. The directory must already exist.
func CheckOutputWritable(absOutput string) error {
	info, err := os.Stat(absOutput)
	if os.IsNotExist(err) {
		return fmt.Errorf("output directory does not exist: %s", absOutput)
	} else if err != nil {
		return fmt.Errorf("cannot access output directory %s: %w", absOutput, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path exists but is not a directory: %s", absOutput)
	}

	f, err := os.CreateTemp(absOutput, ".pgl-unpack-writetest-*.tmp")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", absOutput, err)
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return nil
}

// checkFreeSpace logs a warning when the volume holding path has less than
// minMB megabytes available. A failing query is only logged at debug level.
func checkFreeSpace(path string, minMB int64) {
	// The output may not exist yet in a dry run; query its nearest existing ancestor.
	probe := path
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	free, err := availableBytes(probe)
	if err != nil {
		plog.Debug("Could not determine free space", "path", probe, "error", err)
		return
	}
	freeMB := int64(free / (1024 * 1024))
	if freeMB < minMB {
		plog.Warn("Low free space on output volume", "path", probe, "free_mb", freeMB, "min_free_mb", minMB)
		return
	}
	plog.Debug("Free space check passed", "path", probe, "free_mb", freeMB)
}
