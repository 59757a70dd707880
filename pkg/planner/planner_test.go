package planner_test

import (
	"slices"
	"testing"

	"github.com/paulschiretz/pgl-unpack/pkg/config"
	"github.com/paulschiretz/pgl-unpack/pkg/lockfile"
	"github.com/paulschiretz/pgl-unpack/pkg/pathunpack"
	"github.com/paulschiretz/pgl-unpack/pkg/planner"
)

func TestGenerateInPlacePlan(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Input = "/data/in"
	cfg.Runtime.DryRun = true
	cfg.Extract.Overwrite = "if-newer"

	plan, err := planner.GenerateInPlacePlan(cfg)
	if err != nil {
		t.Fatalf("GenerateInPlacePlan failed: %v", err)
	}

	if plan.Mode != planner.InPlace {
		t.Errorf("expected in-place mode, got %s", plan.Mode)
	}
	if plan.Flatten != nil {
		t.Error("expected no flatten step in in-place mode")
	}
	if plan.Extract.Overwrite != pathunpack.OverwriteIfNewer {
		t.Errorf("expected overwrite if-newer, got %s", plan.Extract.Overwrite)
	}
	if !plan.Extract.DryRun || !plan.Preflight.DryRun {
		t.Error("expected dry run to propagate to every step")
	}
	if plan.Preflight.EnsureOutputExists || plan.Preflight.PathNesting {
		t.Error("expected no output directory checks in in-place mode")
	}
	if !plan.Preflight.InputAccessible {
		t.Error("expected the input to be checked")
	}
	if plan.Lock {
		t.Error("expected dry runs not to take the directory lock")
	}
	if len(plan.Walk.ExcludeDirs) != 0 {
		t.Errorf("expected no excluded dirs, got %v", plan.Walk.ExcludeDirs)
	}
}

func TestGenerateCollectPlan(t *testing.T) {
	newCollectConfig := func() config.Config {
		cfg := config.NewDefault()
		cfg.Runtime.Mode = "collect"
		cfg.Input = "/data/in"
		cfg.Output = "/data/in/extracted_files"
		cfg.Extract.ExcludeDirs = []string{"/data/in/skip"}
		return cfg
	}

	t.Run("Flatten enabled", func(t *testing.T) {
		plan, err := planner.GenerateCollectPlan(newCollectConfig())
		if err != nil {
			t.Fatalf("GenerateCollectPlan failed: %v", err)
		}
		if plan.Mode != planner.Collect {
			t.Errorf("expected collect mode, got %s", plan.Mode)
		}
		if plan.Flatten == nil {
			t.Fatal("expected a flatten step")
		}
		if !slices.Contains(plan.Flatten.ProtectedNames, lockfile.LockFileName) {
			t.Error("expected the lock file name to be protected from flattening")
		}
		if !plan.Lock {
			t.Error("expected a real run to take the directory lock")
		}
		want := []string{"/data/in/skip", "/data/in/extracted_files"}
		if !slices.Equal(plan.Walk.ExcludeDirs, want) {
			t.Errorf("expected excluded dirs %v, got %v", want, plan.Walk.ExcludeDirs)
		}
		if !plan.Preflight.EnsureOutputExists || !plan.Preflight.PathNesting {
			t.Error("expected output checks in collect mode")
		}
	})

	t.Run("Flatten disabled", func(t *testing.T) {
		cfg := newCollectConfig()
		cfg.Flatten.Enabled = false
		plan, err := planner.GenerateCollectPlan(cfg)
		if err != nil {
			t.Fatalf("GenerateCollectPlan failed: %v", err)
		}
		if plan.Flatten != nil {
			t.Error("expected no flatten step with flatten disabled")
		}
	})

	t.Run("Wrong mode", func(t *testing.T) {
		cfg := newCollectConfig()
		cfg.Runtime.Mode = "in-place"
		if _, err := planner.GenerateCollectPlan(cfg); err == nil {
			t.Error("expected an error for a mismatched mode")
		}
	})

	t.Run("Invalid overwrite", func(t *testing.T) {
		cfg := newCollectConfig()
		cfg.Extract.Overwrite = "sometimes"
		if _, err := planner.GenerateCollectPlan(cfg); err == nil {
			t.Error("expected an error for an invalid overwrite behavior")
		}
	})
}

func TestParseMode(t *testing.T) {
	for _, m := range []planner.Mode{planner.InPlace, planner.Collect} {
		got, err := planner.ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("expected %s to round trip, got %s (err: %v)", m, got, err)
		}
	}
	if _, err := planner.ParseMode("mirror"); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}
