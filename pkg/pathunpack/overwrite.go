package pathunpack

import (
	"fmt"
	"os"
	"time"

	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

// OverwriteBehavior defines how to handle existing files during extraction.
type OverwriteBehavior string

const (
	// OverwriteAlways will always overwrite an existing file. This is the default.
	OverwriteAlways OverwriteBehavior = "always"
	// OverwriteNever will never overwrite an existing file.
	OverwriteNever OverwriteBehavior = "never"
	// OverwriteIfNewer will only overwrite if the file in the archive is newer.
	OverwriteIfNewer OverwriteBehavior = "if-newer"
)

var behaviorToString = map[OverwriteBehavior]string{
	OverwriteAlways:  "always",
	OverwriteNever:   "never",
	OverwriteIfNewer: "if-newer",
}

var stringToBehavior map[string]OverwriteBehavior

func init() {
	// Inverting the map at runtime ensures behaviorToString is fully loaded
	stringToBehavior = util.InvertMap(behaviorToString)
}

func (ob OverwriteBehavior) String() string {
	if str, ok := behaviorToString[ob]; ok {
		return str
	}
	return fmt.Sprintf("unknown_overwrite_behavior(%s)", string(ob))
}

func ParseOverwriteBehavior(s string) (OverwriteBehavior, error) {
	if behavior, ok := stringToBehavior[s]; ok {
		return behavior, nil
	}
	return "", fmt.Errorf("invalid overwrite behavior: %q. Must be 'always', 'never', or 'if-newer'", s)
}

// prepareTarget checks if an entry should be written to absTargetPath (name
// relative to the extraction root) based on the overwrite behavior. It returns
// true if the entry should be written. As a side effect, it removes the existing
// file or symlink when overwriting is decided. A source archive of the run is
// never removed; such entries are skipped with a warning.
func (w *entryWriter) prepareTarget(absTargetPath, name string, entryModTime time.Time) (bool, error) {
	destInfo, err := w.root.Lstat(name)
	if os.IsNotExist(err) {
		return true, nil // Path is clear.
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat destination path %s: %w", absTargetPath, err)
	}

	if destInfo.IsDir() {
		return false, fmt.Errorf("cannot overwrite directory with a file: %s", absTargetPath)
	}

	for _, src := range w.sources {
		if os.SameFile(destInfo, src) {
			plog.Warn("Skipping entry, it would replace a source archive", "path", absTargetPath)
			return false, nil
		}
	}

	overwrite := w.overwrite
	// Default to 'always' if not specified; last write wins.
	if overwrite == "" {
		overwrite = OverwriteAlways
	}

	switch overwrite {
	case OverwriteNever:
		plog.Debug("Skipping existing file (overwrite=never)", "path", absTargetPath)
		return false, nil
	case OverwriteIfNewer:
		if !entryModTime.After(destInfo.ModTime()) {
			plog.Debug("Skipping up-to-date file (overwrite=if-newer)", "path", absTargetPath)
			return false, nil
		}
	case OverwriteAlways:
		// Proceed to overwrite.
	default:
		return false, fmt.Errorf("unsupported overwrite behavior: %s", overwrite)
	}

	// Security: Remove existing file/symlink before creating the new one,
	// so a symlink planted by an earlier entry is never followed.
	if err := w.root.Remove(name); err != nil {
		return false, fmt.Errorf("failed to remove existing file for overwrite at %s: %w", absTargetPath, err)
	}
	return true, nil
}
