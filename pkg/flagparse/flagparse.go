package flagparse

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-unpack/pkg/buildinfo"
)

// DefaultOutputDir is the collect-mode output directory used when none is given.
const DefaultOutputDir = "extracted_files"

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel *string
	DryRun   *bool
	Metrics  *bool

	// Shared: Extract / Collect
	Workers           *int
	BufferSizeKB      *int
	OverwriteBehavior *string
	MinFreeSpaceMB    *int64
	ExcludeDirs       *string

	// Collect specific
	NoFlatten *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.Metrics = fs.Bool("metrics", false, "Enable detailed performance and file-counting metrics.")
}

func registerExtractFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Workers = fs.Int("workers", 0, "Number of archives extracted in parallel. 1 (the default) extracts strictly in walk order.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for extraction and file moves.")
	f.OverwriteBehavior = fs.String("overwrite", "always", "Overwrite behavior for existing files: 'always', 'never', 'if-newer'.")
	f.MinFreeSpaceMB = fs.Int64("min-free-space-mb", 0, "Warn when the output volume has less free space than this (0 disables the check).")
	f.ExcludeDirs = fs.String("exclude-dirs", "", "Comma-separated list of directories (relative to the input) to skip while searching for archives.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and a map
// of the flags the user set explicitly. Positional arguments are stored under "input" and,
// for collect, "output".
func Parse(args []string) (Command, map[string]any, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		printTopLevelUsage(os.Stdout)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		printTopLevelUsage(os.Stdout)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	f := &cliFlags{}

	switch command {
	case Extract:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerExtractFlags(fs, f)

		fs.Usage = func() {
			printSubcommandUsage(command, "[input_dir]", "Extract every archive below input_dir (default '.') next to itself.", fs)
		}

		if err := fs.Parse(args[1:]); err != nil {
			return command, nil, err
		}
		if fs.NArg() > 1 {
			return command, nil, fmt.Errorf("extract accepts at most one positional argument, got %d", fs.NArg())
		}

		flagMap := flagsToMap(fs, f)
		if fs.NArg() == 1 {
			flagMap["input"] = fs.Arg(0)
		}
		return command, flagMap, nil

	case Collect:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerExtractFlags(fs, f)
		f.NoFlatten = fs.Bool("no-flatten", false, "Keep the directory structure of the extracted archives.")

		fs.Usage = func() {
			printSubcommandUsage(command, "[input_dir] [output_dir]",
				"Extract every archive below input_dir (default '.') into output_dir (default '"+DefaultOutputDir+"') and flatten it.\n"+
					"Later archives overwrite earlier ones on name collisions; with -workers > 1 the winner is not defined.", fs)
		}

		if err := fs.Parse(args[1:]); err != nil {
			return command, nil, err
		}
		if fs.NArg() > 2 {
			return command, nil, fmt.Errorf("collect accepts at most two positional arguments, got %d", fs.NArg())
		}

		flagMap := flagsToMap(fs, f)
		if fs.NArg() >= 1 {
			flagMap["input"] = fs.Arg(0)
		}
		if fs.NArg() == 2 {
			flagMap["output"] = fs.Arg(1)
		}
		return command, flagMap, nil

	case Version:
		return command, nil, nil

	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) map[string]any {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)

	addIfUsed(flagMap, usedFlags, "workers", f.Workers)
	addIfUsed(flagMap, usedFlags, "buffer-size-kb", f.BufferSizeKB)
	addIfUsed(flagMap, usedFlags, "overwrite", f.OverwriteBehavior)
	addIfUsed(flagMap, usedFlags, "min-free-space-mb", f.MinFreeSpaceMB)
	addIfUsed(flagMap, usedFlags, "no-flatten", f.NoFlatten)

	addParsedIfUsed(flagMap, usedFlags, "exclude-dirs", f.ExcludeDirs, ParseExcludeList)

	return flagMap
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]any, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]any, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(w io.Writer) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(w, "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(w, "Recursively extract archives and collect their contents.\n\n")
	fmt.Fprintf(w, "Usage: %s <command> [flags] [args]\n\n", execName)
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  extract     Extract every archive in place, next to the archive\n")
	fmt.Fprintf(w, "  collect     Extract every archive into one output directory and flatten it\n")
	fmt.Fprintf(w, "  version     Print the application version\n")
	fmt.Fprintf(w, "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, positional, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Recursively extract archives and collect their contents.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags] %s\n\n", command, execName, command, positional)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseExcludeList parses a comma-separated list of directory paths. Single or
// double quotes group items that contain commas or spaces and are removed.
// Backslashes are kept literally for Windows paths.
func ParseExcludeList(s string) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	appendItem := func() {
		if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	for _, r := range s {
		switch {
		case (r == '\'' || r == '"') && quoteChar == 0:
			quoteChar = r
		case r == quoteChar:
			quoteChar = 0
		case r == ',' && quoteChar == 0:
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem()
	return list
}
