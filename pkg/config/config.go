package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-unpack/pkg/buildinfo"
	"github.com/paulschiretz/pgl-unpack/pkg/flagparse"
	"github.com/paulschiretz/pgl-unpack/pkg/pathunpack"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/pool"
	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

type EnginePerformanceConfig struct {
	ExtractWorkers int
	BufferSizeKB   int
}

type EngineConfig struct {
	Metrics     bool
	Performance EnginePerformanceConfig
}

type ExtractConfig struct {
	Overwrite      string
	MinFreeSpaceMB int64
	// ExcludeDirs are skipped while searching for archives. Relative entries are resolved against Input.
	ExcludeDirs []string
}

type FlattenConfig struct {
	Enabled bool
}

type RuntimeConfig struct {
	Mode   string
	DryRun bool
}

// Config is the fully resolved configuration of one run. There is no config
// file; defaults are overlaid with the flags the user set explicitly.
type Config struct {
	Version  string
	Input    string
	Output   string // Only used in collect mode.
	Runtime  RuntimeConfig
	LogLevel string
	Engine   EngineConfig
	Extract  ExtractConfig
	Flatten  FlattenConfig
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		Input:    ".",
		Output:   flagparse.DefaultOutputDir,
		LogLevel: "info",
		Runtime: RuntimeConfig{
			Mode:   "in-place",
			DryRun: false,
		},
		Engine: EngineConfig{
			Metrics: false,
			Performance: EnginePerformanceConfig{
				ExtractWorkers: 1, // Sequential; keeps "last write wins" deterministic in collect mode.
				BufferSizeKB:   pool.DefaultBufferSizeKB,
			},
		},
		Extract: ExtractConfig{
			Overwrite:      pathunpack.OverwriteAlways.String(),
			MinFreeSpaceMB: 100,
		},
		Flatten: FlattenConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for logical errors and resolves Input,
// Output and ExcludeDirs to absolute, cleaned paths.
func (c *Config) Validate() error {
	var err error

	if c.Input == "" {
		return fmt.Errorf("input path cannot be empty")
	}
	if c.Input, err = absPath(c.Input); err != nil {
		return fmt.Errorf("could not resolve input path: %w", err)
	}

	switch c.Runtime.Mode {
	case "in-place":
	case "collect":
		if c.Output == "" {
			return fmt.Errorf("output path cannot be empty")
		}
		if c.Output, err = absPath(c.Output); err != nil {
			return fmt.Errorf("could not resolve output path: %w", err)
		}
	default:
		return fmt.Errorf("invalid mode: %q. Must be 'in-place' or 'collect'", c.Runtime.Mode)
	}

	if c.Engine.Performance.ExtractWorkers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Engine.Performance.BufferSizeKB <= 0 {
		return fmt.Errorf("buffer-size-kb must be greater than 0")
	}
	if c.Extract.MinFreeSpaceMB < 0 {
		return fmt.Errorf("min-free-space-mb cannot be negative")
	}
	if _, err := pathunpack.ParseOverwriteBehavior(c.Extract.Overwrite); err != nil {
		return err
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "notice", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q. Must be 'debug', 'notice', 'info', 'warn' or 'error'", c.LogLevel)
	}

	for i, d := range c.Extract.ExcludeDirs {
		d, err = util.ExpandPath(d)
		if err != nil {
			return fmt.Errorf("could not expand exclude dir %q: %w", c.Extract.ExcludeDirs[i], err)
		}
		if !filepath.IsAbs(d) {
			d = filepath.Join(c.Input, d)
		}
		c.Extract.ExcludeDirs[i] = filepath.Clean(d)
	}
	return nil
}

// absPath expands a leading tilde and returns the cleaned absolute path.
func absPath(p string) (string, error) {
	p, err := util.ExpandPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Abs(p)
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []any{
		"mode", c.Runtime.Mode,
		"log_level", c.LogLevel,
		"input", c.Input,
		"dry_run", c.Runtime.DryRun,
		"workers", c.Engine.Performance.ExtractWorkers,
		"buffer_size_kb", c.Engine.Performance.BufferSizeKB,
		"overwrite", c.Extract.Overwrite,
		"metrics", c.Engine.Metrics,
	}
	if c.Runtime.Mode == "collect" {
		logArgs = append(logArgs, "output", c.Output, "flatten", c.Flatten.Enabled)
	}
	if len(c.Extract.ExcludeDirs) > 0 {
		logArgs = append(logArgs, "exclude_dirs", strings.Join(c.Extract.ExcludeDirs, ","))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line plus the positional arguments.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base
	merged.Extract.ExcludeDirs = append([]string(nil), base.Extract.ExcludeDirs...)

	switch command {
	case flagparse.Collect:
		merged.Runtime.Mode = "collect"
	case flagparse.Extract:
		merged.Runtime.Mode = "in-place"
	}

	for name, value := range setFlags {
		switch name {
		case "input":
			merged.Input = value.(string)
		case "output":
			merged.Output = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "metrics":
			merged.Engine.Metrics = value.(bool)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "workers":
			merged.Engine.Performance.ExtractWorkers = value.(int)
		case "buffer-size-kb":
			merged.Engine.Performance.BufferSizeKB = value.(int)
		case "overwrite":
			merged.Extract.Overwrite = value.(string)
		case "min-free-space-mb":
			merged.Extract.MinFreeSpaceMB = value.(int64)
		case "exclude-dirs":
			merged.Extract.ExcludeDirs = value.([]string)
		case "no-flatten":
			merged.Flatten.Enabled = !value.(bool)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
