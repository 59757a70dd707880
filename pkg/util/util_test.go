package util

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestWithUserWritePermission(t *testing.T) {
	testCases := []struct {
		name     string
		input    os.FileMode
		expected os.FileMode
	}{
		{
			name:     "Read-only permission",
			input:    0444, // r--r--r--
			expected: 0644, // rw-r--r--
		},
		{
			name:     "Already has write permission",
			input:    0755, // rwxr-xr-x
			expected: 0755, // rwxr-xr-x (should not change)
		},
		{
			name:     "No permissions",
			input:    0000, // ---------
			expected: 0200, // -w-------
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := WithUserWritePermission(tc.input)
			if result != tc.expected {
				t.Errorf("expected permission %o, but got %o", tc.expected, result)
			}
		})
	}
}

func TestSecureJoin(t *testing.T) {
	base := t.TempDir()

	testCases := []struct {
		name      string
		entry     string
		want      string
		wantError bool
	}{
		{name: "Simple file", entry: "hello.txt", want: filepath.Join(base, "hello.txt")},
		{name: "Nested file", entry: "a/b/c.txt", want: filepath.Join(base, "a", "b", "c.txt")},
		{name: "Dot prefix", entry: "./a/b.txt", want: filepath.Join(base, "a", "b.txt")},
		{name: "Inner dotdot stays inside", entry: "a/../b.txt", want: filepath.Join(base, "b.txt")},
		{name: "Root entry", entry: "./", want: base},
		{name: "Parent escape", entry: "../evil.txt", wantError: true},
		{name: "Deep parent escape", entry: "a/../../evil.txt", wantError: true},
		{name: "Absolute path", entry: "/etc/passwd", wantError: true},
		{name: "Empty name", entry: "", wantError: true},
	}
	if runtime.GOOS == "windows" {
		testCases = append(testCases, struct {
			name      string
			entry     string
			want      string
			wantError bool
		}{name: "Drive letter", entry: `C:\evil.txt`, wantError: true})
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SecureJoin(base, tc.entry)
			if tc.wantError {
				if err == nil {
					t.Fatalf("expected error for %q, got path %q", tc.entry, got)
				}
				if !errors.Is(err, ErrPathEscapesBase) {
					t.Errorf("expected ErrPathEscapesBase, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tc.entry, err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsWithin(t *testing.T) {
	base := filepath.Join(string(os.PathSeparator), "data", "out")
	if !IsWithin(base, base) {
		t.Error("base should be within itself")
	}
	if !IsWithin(base, filepath.Join(base, "x")) {
		t.Error("child should be within base")
	}
	if IsWithin(base, base+"-sibling") {
		t.Error("sibling with shared prefix must not be within base")
	}
}

func TestInvertMap(t *testing.T) {
	inv := InvertMap(map[int]string{1: "one", 2: "two"})
	if inv["one"] != 1 || inv["two"] != 2 || len(inv) != 2 {
		t.Errorf("unexpected inverted map: %v", inv)
	}
}

func TestResolveRootSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping test: creating symlinks on Windows requires administrator privileges or Developer Mode.")
	}

	base := t.TempDir()
	dir := filepath.Join(base, "dir")
	if err := os.Mkdir(dir, UserWritableDirPerms); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(base, "link")
	if err := os.Symlink(dir, link); err != nil {
		t.Fatal(err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}

	if got := ResolveRootSymlink(link); got != want {
		t.Errorf("expected symlink to resolve to %q, got %q", want, got)
	}
	if got := ResolveRootSymlink(dir); got != dir {
		t.Errorf("expected plain directory to be returned unchanged, got %q", got)
	}
	missing := filepath.Join(base, "missing")
	if got := ResolveRootSymlink(missing); got != missing {
		t.Errorf("expected missing path to be returned unchanged, got %q", got)
	}
}
