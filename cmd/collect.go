package cmd

import (
	"context"
	"time"

	"github.com/paulschiretz/pgl-unpack/pkg/buildinfo"
	"github.com/paulschiretz/pgl-unpack/pkg/config"
	"github.com/paulschiretz/pgl-unpack/pkg/flagparse"
	"github.com/paulschiretz/pgl-unpack/pkg/planner"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
)

// RunCollect extracts every archive below the input directory into one output
// directory and flattens it unless -no-flatten was given.
func RunCollect(ctx context.Context, flagMap map[string]any) error {
	runConfig := config.MergeConfigWithFlags(flagparse.Collect, config.NewDefault(), flagMap)

	if err := runConfig.Validate(); err != nil {
		return err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	runConfig.LogSummary()

	runner := newRunner(runConfig)

	collectPlan, err := planner.GenerateCollectPlan(runConfig)
	if err != nil {
		return err
	}

	startTime := time.Now()
	err = runner.ExecuteCollect(ctx, runConfig.Input, runConfig.Output, collectPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}
