package util

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Permission constants for file and directory modes.
const (
	// PermUserRead is the user-read permission bit (0400).
	PermUserRead os.FileMode = 0400
	// PermUserWrite is the user-write permission bit (0200).
	PermUserWrite os.FileMode = 0200
	// PermUserExecute is the user-execute permission bit (0100).
	PermUserExecute os.FileMode = 0100

	// UserWritableDirPerms represents the standard permissions for newly created directories (rwxr-xr-x).
	UserWritableDirPerms os.FileMode = 0755
	// UserWritableFilePerms represents the standard permissions for newly created files (rw-r--r--).
	UserWritableFilePerms os.FileMode = 0644
)

// ErrPathEscapesBase is returned by SecureJoin when a relative name would resolve outside its base.
var ErrPathEscapesBase = errors.New("path escapes base directory")

// WithUserWritePermission ensures that any directory/file permission has the owner-write
// bit (0200) set. Extracted entries with read-only modes would otherwise block later
// overwrites and flattening moves.
func WithUserWritePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserWrite
}

// WithUserExecutePermission ensures that any directory permission has the owner-execute
// bit (0100) set so the directory can be traversed.
func WithUserExecutePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserExecute
}

// ExpandPath expands the tilde (~) prefix in a path to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil // No tilde, return as-is.
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}

	// Replace the tilde with the home directory.
	return filepath.Join(home, p[1:]), nil
}

// NormalizePath converts a path to the forward-slash form used inside archives.
func NormalizePath(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
}

// DenormalizePath converts a forward-slash path to the host's separator.
func DenormalizePath(p string) string {
	return filepath.FromSlash(p)
}

// IsWithin reports whether absPath is absBase itself or lies beneath it.
// Both paths are expected to be absolute and cleaned.
func IsWithin(absBase, absPath string) bool {
	if absPath == absBase {
		return true
	}
	prefix := absBase
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	return strings.HasPrefix(absPath, prefix)
}

// SecureJoin joins an archive-supplied name onto absBase and guarantees the result stays
// beneath absBase. Absolute names, drive letters and any ".." that climbs above the base
// are rejected with ErrPathEscapesBase. A name that resolves to absBase itself (e.g. "./")
// returns absBase.
func SecureJoin(absBase, name string) (string, error) {
	norm := NormalizePath(name)
	if norm == "" {
		return "", fmt.Errorf("%w: empty name", ErrPathEscapesBase)
	}
	if path.IsAbs(norm) || filepath.IsAbs(name) || filepath.VolumeName(DenormalizePath(norm)) != "" {
		return "", fmt.Errorf("%w: absolute name %q", ErrPathEscapesBase, name)
	}

	cleaned := path.Clean(norm)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesBase, name)
	}

	absBase = filepath.Clean(absBase)
	absTarget := filepath.Join(absBase, DenormalizePath(cleaned))
	if !IsWithin(absBase, absTarget) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesBase, name)
	}
	return absTarget, nil
}

// ResolveRootSymlink returns the resolved target of absPath when absPath itself is a
// symlink, and absPath unchanged otherwise. filepath.WalkDir does not descend into
// a root that is a symlink.
func ResolveRootSymlink(absPath string) string {
	info, err := os.Lstat(absPath)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return absPath
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return absPath
	}
	return resolved
}

// InvertMap takes a map[K]V and returns a map[V]K.
// It's a generic helper for creating reverse lookup maps for enums.
func InvertMap[K comparable, V comparable](m map[K]V) map[V]K {
	inv := make(map[V]K, len(m))
	for k, v := range m {
		inv[v] = k
	}
	return inv
}
