package planner

import (
	"fmt"

	"github.com/paulschiretz/pgl-unpack/pkg/config"
	"github.com/paulschiretz/pgl-unpack/pkg/lockfile"
	"github.com/paulschiretz/pgl-unpack/pkg/pathflatten"
	"github.com/paulschiretz/pgl-unpack/pkg/pathunpack"
	"github.com/paulschiretz/pgl-unpack/pkg/pathwalk"
	"github.com/paulschiretz/pgl-unpack/pkg/preflight"
)

type UnpackPlan struct {
	Mode    Mode
	DryRun  bool
	Metrics bool
	// Lock guards the working directory against a concurrent run. Dry runs never lock.
	Lock bool

	Preflight *preflight.Plan
	Walk      *pathwalk.Plan
	Extract   *pathunpack.Plan
	// Flatten is nil when the extracted files keep their directory structure.
	Flatten *pathflatten.Plan
}

// GenerateInPlacePlan builds the plan for extracting every archive next to itself.
func GenerateInPlacePlan(cfg config.Config) (*UnpackPlan, error) {
	if cfg.Runtime.Mode != InPlace.String() {
		return nil, fmt.Errorf("cannot generate an in-place plan for mode %q", cfg.Runtime.Mode)
	}
	return generatePlan(cfg, InPlace)
}

// GenerateCollectPlan builds the plan for extracting every archive into cfg.Output.
func GenerateCollectPlan(cfg config.Config) (*UnpackPlan, error) {
	if cfg.Runtime.Mode != Collect.String() {
		return nil, fmt.Errorf("cannot generate a collect plan for mode %q", cfg.Runtime.Mode)
	}
	if cfg.Output == "" {
		return nil, fmt.Errorf("collect mode requires an output directory")
	}
	return generatePlan(cfg, Collect)
}

func generatePlan(cfg config.Config, mode Mode) (*UnpackPlan, error) {
	// Global Flags
	dryRun := cfg.Runtime.DryRun
	metrics := cfg.Engine.Metrics

	overwrite, err := pathunpack.ParseOverwriteBehavior(cfg.Extract.Overwrite)
	if err != nil {
		return nil, err
	}

	excludeDirs := append([]string(nil), cfg.Extract.ExcludeDirs...)

	preflightPlan := &preflight.Plan{
		InputAccessible: true,
		OutputWritable:  true,
		MinFreeSpaceMB:  cfg.Extract.MinFreeSpaceMB,
		DryRun:          dryRun,
		Metrics:         metrics,
	}

	var flattenPlan *pathflatten.Plan
	if mode == Collect {
		preflightPlan.PathNesting = true
		preflightPlan.OutputAccessible = true
		preflightPlan.EnsureOutputExists = true
		// The output may live inside the input tree; never treat our own results as input.
		excludeDirs = append(excludeDirs, cfg.Output)
		if cfg.Flatten.Enabled {
			flattenPlan = &pathflatten.Plan{
				ProtectedNames: []string{lockfile.LockFileName},
				DryRun:         dryRun,
				Metrics:        metrics,
			}
		}
	}

	return &UnpackPlan{
		Mode:      mode,
		DryRun:    dryRun,
		Metrics:   metrics,
		Lock:      !dryRun,
		Preflight: preflightPlan,
		Walk: &pathwalk.Plan{
			ExcludeDirs: excludeDirs,
		},
		Extract: &pathunpack.Plan{
			Overwrite: overwrite,
			DryRun:    dryRun,
			Metrics:   metrics,
		},
		Flatten: flattenPlan,
	}, nil
}
