package pathflattenmetrics_test

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-unpack/pkg/pathflattenmetrics"
	"github.com/paulschiretz/pgl-unpack/pkg/plog"
)

func TestFlattenMetrics_Log(t *testing.T) {
	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	m := &pathflattenmetrics.FlattenMetrics{}
	m.AddFilesMoved(4)
	m.AddFilesOverwritten(1)
	m.AddDirsRemoved(2)
	m.AddMoveFailures(3)
	m.AddRemoveFailures(5)
	m.StartProgress("Test", time.Hour)
	m.StopProgress()
	m.StopProgress() // second stop must not block or panic
	m.LogSummary("Flatten Summary")

	output := logBuf.String()
	for _, want := range []string{
		`msg="Flatten Summary"`,
		"files_moved=4",
		"files_overwritten=1",
		"dirs_removed=2",
		"move_failures=3",
		"remove_failures=5",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected log output to contain %q, got: %s", want, output)
		}
	}
}

func TestNoopMetrics(t *testing.T) {
	m := &pathflattenmetrics.NoopMetrics{}
	m.AddFilesMoved(1)
	m.AddFilesOverwritten(1)
	m.AddDirsRemoved(1)
	m.AddMoveFailures(1)
	m.AddRemoveFailures(1)
	m.StartProgress("noop", time.Millisecond)
	m.StopProgress()
	m.LogSummary("noop")
}
