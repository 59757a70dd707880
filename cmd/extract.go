package cmd

import (
	"context"
	"time"

	"github.com/paulschiretz/pgl-unpack/pkg/buildinfo"
	"github.com/paulschiretz/pgl-unpack/pkg/config"
	"github.com/paulschiretz/pgl-unpack/pkg/engine"
	"github.com/paulschiretz/pgl-unpack/pkg/flagparse"
	"github.com/paulschiretz/pgl-unpack/pkg/pathflatten"
	"github.com/paulschiretz/pgl-unpack/pkg/pathunpack"
	"github.com/paulschiretz/pgl-unpack/pkg/planner"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/preflight"
)

// RunExtract extracts every archive below the input directory next to itself.
func RunExtract(ctx context.Context, flagMap map[string]any) error {
	// Merge the flag values over the defaults to get the final run config.
	runConfig := config.MergeConfigWithFlags(flagparse.Extract, config.NewDefault(), flagMap)

	if err := runConfig.Validate(); err != nil {
		return err
	}

	// Set the global log level based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	runConfig.LogSummary()

	runner := newRunner(runConfig)

	extractPlan, err := planner.GenerateInPlacePlan(runConfig)
	if err != nil {
		return err
	}

	startTime := time.Now()
	err = runner.ExecuteInPlace(ctx, runConfig.Input, extractPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	plog.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}

// newRunner feeds the engine with the leaf workers sized by cfg.
func newRunner(cfg config.Config) *engine.Runner {
	return engine.NewRunner(
		preflight.NewValidator(),
		pathunpack.NewPathUnpacker(
			cfg.Engine.Performance.BufferSizeKB,
			cfg.Engine.Performance.ExtractWorkers,
		),
		pathflatten.NewPathFlattener(
			cfg.Engine.Performance.BufferSizeKB,
		),
	)
}
