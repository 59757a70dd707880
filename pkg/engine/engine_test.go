package engine_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-unpack/pkg/config"
	"github.com/paulschiretz/pgl-unpack/pkg/engine"
	"github.com/paulschiretz/pgl-unpack/pkg/lockfile"
	"github.com/paulschiretz/pgl-unpack/pkg/pathflatten"
	"github.com/paulschiretz/pgl-unpack/pkg/pathunpack"
	"github.com/paulschiretz/pgl-unpack/pkg/planner"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/preflight"
)

// --- Mocks ---

type mockValidator struct {
	err       error
	gotInput  string
	gotOutput string
}

func (m *mockValidator) Run(ctx context.Context, absInput, absOutput string, p *preflight.Plan) error {
	m.gotInput, m.gotOutput = absInput, absOutput
	return m.err
}

type mockUnpacker struct {
	err  error
	jobs []pathunpack.Job
}

func (m *mockUnpacker) Unpack(ctx context.Context, jobs []pathunpack.Job, p *pathunpack.Plan) error {
	m.jobs = jobs
	return m.err
}

type mockFlattener struct {
	err    error
	called bool
	gotDir string
}

func (m *mockFlattener) Flatten(ctx context.Context, absDir string, p *pathflatten.Plan) error {
	m.called = true
	m.gotDir = absDir
	return m.err
}

// --- Helpers ---

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gw := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), ModTime: time.Now().Add(-time.Hour), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(tw, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(b)
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	t.Cleanup(func() {
		plog.SetOutput(os.Stderr)
		plog.SetLevel(plog.LevelInfo)
	})
	return &logBuf
}

func newPlan(t *testing.T, mode planner.Mode, input, output string, mutate func(*config.Config)) *planner.UnpackPlan {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Runtime.Mode = mode.String()
	cfg.Input = input
	cfg.Output = output
	cfg.Extract.MinFreeSpaceMB = 0
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	var (
		p   *planner.UnpackPlan
		err error
	)
	if mode == planner.Collect {
		p, err = planner.GenerateCollectPlan(cfg)
	} else {
		p, err = planner.GenerateInPlacePlan(cfg)
	}
	if err != nil {
		t.Fatalf("failed to generate plan: %v", err)
	}
	return p
}

// --- Tests ---

func TestExecuteInPlace(t *testing.T) {
	tests := []struct {
		name         string
		preflightErr error
		unpackErr    error
		expectError  bool
		errorIs      error
		errContains  string
	}{
		{name: "Happy path"},
		{name: "Preflight failure", preflightErr: errors.New("input missing"), expectError: true, errContains: "preflight failed"},
		{name: "Nothing to extract is not an error", unpackErr: pathunpack.ErrNothingToExtract},
		{name: "Cancellation propagates", unpackErr: context.Canceled, expectError: true, errorIs: context.Canceled},
		{name: "Unexpected unpack error", unpackErr: errors.New("boom"), expectError: true, errContains: "error during extraction"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			input := t.TempDir()
			touch(t, filepath.Join(input, "a.zip"))
			touch(t, filepath.Join(input, "deep", "b.tar.gz"))
			touch(t, filepath.Join(input, "deep", "notes.txt"))

			v := &mockValidator{err: tc.preflightErr}
			u := &mockUnpacker{err: tc.unpackErr}
			f := &mockFlattener{}
			runner := engine.NewRunner(v, u, f)

			err := runner.ExecuteInPlace(context.Background(), input, newPlan(t, planner.InPlace, input, "", nil))
			if tc.expectError {
				if err == nil {
					t.Fatal("expected an error, got nil")
				}
				if tc.errorIs != nil && !errors.Is(err, tc.errorIs) {
					t.Errorf("expected error %v, got %v", tc.errorIs, err)
				}
				if tc.errContains != "" && !strings.Contains(err.Error(), tc.errContains) {
					t.Errorf("expected error to contain %q, got %v", tc.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if v.gotOutput != "" {
				t.Errorf("expected no separate output dir for preflight, got %q", v.gotOutput)
			}
			want := []pathunpack.Job{
				{AbsArchivePath: filepath.Join(input, "a.zip"), AbsOutputDir: input},
				{AbsArchivePath: filepath.Join(input, "deep", "b.tar.gz"), AbsOutputDir: filepath.Join(input, "deep")},
			}
			if diff := cmp.Diff(want, u.jobs); diff != "" {
				t.Errorf("jobs mismatch (-want +got):\n%s", diff)
			}
			if f.called {
				t.Error("in-place mode must never flatten")
			}
			if _, err := os.Stat(filepath.Join(input, lockfile.LockFileName)); !os.IsNotExist(err) {
				t.Error("expected the lock to be released after the run")
			}
		})
	}
}

func TestExecuteCollect(t *testing.T) {
	t.Run("Jobs share the output directory and flatten runs last", func(t *testing.T) {
		input := t.TempDir()
		output := filepath.Join(input, "extracted_files")
		touch(t, filepath.Join(input, "one.zip"))
		touch(t, filepath.Join(input, "sub", "two.tgz"))
		// Results of a previous run must not be picked up again.
		touch(t, filepath.Join(output, "old.zip"))

		v := &mockValidator{}
		u := &mockUnpacker{}
		f := &mockFlattener{}
		p := newPlan(t, planner.Collect, input, output, nil)
		// The mock validator does not create the output directory.
		if err := os.MkdirAll(output, 0755); err != nil {
			t.Fatal(err)
		}

		if err := engine.NewRunner(v, u, f).ExecuteCollect(context.Background(), input, output, p); err != nil {
			t.Fatalf("ExecuteCollect failed: %v", err)
		}

		if v.gotInput != input || v.gotOutput != output {
			t.Errorf("unexpected preflight paths: %q, %q", v.gotInput, v.gotOutput)
		}
		want := []pathunpack.Job{
			{AbsArchivePath: filepath.Join(input, "one.zip"), AbsOutputDir: output},
			{AbsArchivePath: filepath.Join(input, "sub", "two.tgz"), AbsOutputDir: output},
		}
		if diff := cmp.Diff(want, u.jobs); diff != "" {
			t.Errorf("jobs mismatch (-want +got):\n%s", diff)
		}
		if !f.called || f.gotDir != output {
			t.Errorf("expected flatten of %q, called=%v dir=%q", output, f.called, f.gotDir)
		}
	})

	t.Run("No flatten when disabled", func(t *testing.T) {
		input, output := t.TempDir(), t.TempDir()
		f := &mockFlattener{}
		p := newPlan(t, planner.Collect, input, output, func(c *config.Config) { c.Flatten.Enabled = false })

		if err := engine.NewRunner(&mockValidator{}, &mockUnpacker{}, f).ExecuteCollect(context.Background(), input, output, p); err != nil {
			t.Fatalf("ExecuteCollect failed: %v", err)
		}
		if f.called {
			t.Error("expected flatten to be skipped")
		}
	})

	t.Run("Flatten error is fatal", func(t *testing.T) {
		input, output := t.TempDir(), t.TempDir()
		f := &mockFlattener{err: errors.New("not a directory")}
		p := newPlan(t, planner.Collect, input, output, nil)

		err := engine.NewRunner(&mockValidator{}, &mockUnpacker{}, f).ExecuteCollect(context.Background(), input, output, p)
		if err == nil || !strings.Contains(err.Error(), "error during flatten") {
			t.Errorf("expected flatten error, got %v", err)
		}
	})

	t.Run("Canceled extraction skips flatten", func(t *testing.T) {
		input, output := t.TempDir(), t.TempDir()
		f := &mockFlattener{}
		p := newPlan(t, planner.Collect, input, output, nil)

		err := engine.NewRunner(&mockValidator{}, &mockUnpacker{err: context.Canceled}, f).ExecuteCollect(context.Background(), input, output, p)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if f.called {
			t.Error("flatten must not run after a canceled extraction")
		}
	})

	t.Run("Dry run with missing output skips flatten", func(t *testing.T) {
		input := t.TempDir()
		output := filepath.Join(t.TempDir(), "missing")
		f := &mockFlattener{}
		p := newPlan(t, planner.Collect, input, output, func(c *config.Config) { c.Runtime.DryRun = true })

		if err := engine.NewRunner(&mockValidator{}, &mockUnpacker{}, f).ExecuteCollect(context.Background(), input, output, p); err != nil {
			t.Fatalf("ExecuteCollect failed: %v", err)
		}
		if f.called {
			t.Error("expected flatten to be skipped for a missing output in dry run")
		}
	})

	t.Run("Active lock skips the run", func(t *testing.T) {
		logBuf := captureLog(t)
		input, output := t.TempDir(), t.TempDir()
		held, err := lockfile.Acquire(context.Background(), output, "other-run")
		if err != nil {
			t.Fatal(err)
		}
		defer held.Release()

		u := &mockUnpacker{}
		p := newPlan(t, planner.Collect, input, output, nil)
		if err := engine.NewRunner(&mockValidator{}, u, &mockFlattener{}).ExecuteCollect(context.Background(), input, output, p); err != nil {
			t.Fatalf("expected a graceful skip, got %v", err)
		}
		if u.jobs != nil {
			t.Error("expected no extraction while another run holds the lock")
		}
		if !strings.Contains(logBuf.String(), "already working in this directory") {
			t.Errorf("expected lock warning, got: %s", logBuf.String())
		}
	})
}

func TestExecute_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	input := t.TempDir()
	v := &mockValidator{}
	runner := engine.NewRunner(v, &mockUnpacker{}, &mockFlattener{})

	if err := runner.ExecuteInPlace(ctx, input, newPlan(t, planner.InPlace, input, "", nil)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if v.gotInput != "" {
		t.Error("expected preflight not to run after cancellation")
	}
}

// TestEndToEnd runs the real workers against a generated input tree.
func TestEndToEnd(t *testing.T) {
	newRunner := func() *engine.Runner {
		return engine.NewRunner(
			preflight.NewValidator(),
			pathunpack.NewPathUnpacker(64, 1),
			pathflatten.NewPathFlattener(64),
		)
	}

	t.Run("Collect and flatten", func(t *testing.T) {
		logBuf := captureLog(t)
		root := t.TempDir()
		input := filepath.Join(root, "in")
		output := filepath.Join(root, "out")
		writeZip(t, filepath.Join(input, "archive1.zip"), map[string]string{"hello.txt": "hi"})
		writeTarGz(t, filepath.Join(input, "nested", "archive2.tar.gz"), map[string]string{"deep/dir/world.txt": "bye"})
		touch(t, filepath.Join(input, "nested", "readme.md"))

		p := newPlan(t, planner.Collect, input, output, nil)
		if err := newRunner().ExecuteCollect(context.Background(), input, output, p); err != nil {
			t.Fatalf("ExecuteCollect failed: %v", err)
		}

		entries, err := os.ReadDir(output)
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				t.Errorf("expected no subdirectories in output, found %s", e.Name())
			}
			names = append(names, e.Name())
		}
		if want := []string{"hello.txt", "world.txt"}; !slices.Equal(names, want) {
			t.Errorf("expected output %v, got %v", want, names)
		}
		if got := readFile(t, filepath.Join(output, "hello.txt")); got != "hi" {
			t.Errorf("hello.txt: expected %q, got %q", "hi", got)
		}
		if got := readFile(t, filepath.Join(output, "world.txt")); got != "bye" {
			t.Errorf("world.txt: expected %q, got %q", "bye", got)
		}
		// Sources are never touched.
		if _, err := os.Stat(filepath.Join(input, "archive1.zip")); err != nil {
			t.Errorf("expected archive1.zip to remain: %v", err)
		}
		if strings.Count(logBuf.String(), "msg=EXTRACTED") != 2 {
			t.Errorf("expected one EXTRACTED line per archive, got: %s", logBuf.String())
		}
		if !strings.Contains(logBuf.String(), "Extraction completed") {
			t.Errorf("expected a completion message, got: %s", logBuf.String())
		}
	})

	t.Run("Collect into a nested output twice", func(t *testing.T) {
		input := t.TempDir()
		output := filepath.Join(input, "extracted_files")
		writeZip(t, filepath.Join(input, "a.zip"), map[string]string{"inner.zip.txt": "one"})

		p := newPlan(t, planner.Collect, input, output, nil)
		for i := range 2 {
			if err := newRunner().ExecuteCollect(context.Background(), input, output, p); err != nil {
				t.Fatalf("run %d failed: %v", i+1, err)
			}
		}
		if got := readFile(t, filepath.Join(output, "inner.zip.txt")); got != "one" {
			t.Errorf("expected inner.zip.txt to contain %q, got %q", "one", got)
		}
	})

	t.Run("In place", func(t *testing.T) {
		input := t.TempDir()
		writeZip(t, filepath.Join(input, "top.zip"), map[string]string{"t.txt": "top"})
		writeTarGz(t, filepath.Join(input, "a", "b", "inner.tgz"), map[string]string{"pkg/i.txt": "inner"})
		touch(t, filepath.Join(input, "a", "broken.zip"))

		logBuf := captureLog(t)
		p := newPlan(t, planner.InPlace, input, "", nil)
		if err := newRunner().ExecuteInPlace(context.Background(), input, p); err != nil {
			t.Fatalf("ExecuteInPlace failed: %v", err)
		}

		if got := readFile(t, filepath.Join(input, "t.txt")); got != "top" {
			t.Errorf("t.txt: expected %q, got %q", "top", got)
		}
		if got := readFile(t, filepath.Join(input, "a", "b", "pkg", "i.txt")); got != "inner" {
			t.Errorf("i.txt: expected %q, got %q", "inner", got)
		}
		if !strings.Contains(logBuf.String(), "Failed to extract archive") {
			t.Errorf("expected the corrupt archive to be reported, got: %s", logBuf.String())
		}
	})

	t.Run("Missing input is a hard failure", func(t *testing.T) {
		input := filepath.Join(t.TempDir(), "missing")
		p := newPlan(t, planner.InPlace, input, "", nil)
		if err := newRunner().ExecuteInPlace(context.Background(), input, p); err == nil {
			t.Fatal("expected an error for a missing input directory")
		}
	})
}
