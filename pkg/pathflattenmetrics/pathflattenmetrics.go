package pathflattenmetrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-unpack/pkg/plog"
)

// Metrics defines the interface for collecting and reporting flattening statistics.
type Metrics interface {
	AddFilesMoved(n int64)
	AddFilesOverwritten(n int64)
	AddDirsRemoved(n int64)
	AddMoveFailures(n int64)
	AddRemoveFailures(n int64)
	LogSummary(msg string)
	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// FlattenMetrics holds the atomic counters for tracking a flatten pass.
type FlattenMetrics struct {
	FilesMoved       atomic.Int64
	FilesOverwritten atomic.Int64
	DirsRemoved      atomic.Int64
	MoveFailures     atomic.Int64
	RemoveFailures   atomic.Int64

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

func (m *FlattenMetrics) AddFilesMoved(n int64)       { m.FilesMoved.Add(n) }
func (m *FlattenMetrics) AddFilesOverwritten(n int64) { m.FilesOverwritten.Add(n) }
func (m *FlattenMetrics) AddDirsRemoved(n int64)      { m.DirsRemoved.Add(n) }
func (m *FlattenMetrics) AddMoveFailures(n int64)     { m.MoveFailures.Add(n) }
func (m *FlattenMetrics) AddRemoveFailures(n int64)   { m.RemoveFailures.Add(n) }

func (m *FlattenMetrics) StartProgress(msg string, interval time.Duration) {
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})
	ticker := time.NewTicker(interval)
	stop, done := m.stopChan, m.doneChan
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-stop:
				return
			}
		}
	}()
}

func (m *FlattenMetrics) StopProgress() {
	if m.stopChan == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stopChan) })
	<-m.doneChan
}

// LogSummary logs the current state of the metrics.
func (m *FlattenMetrics) LogSummary(msg string) {
	plog.Info(msg,
		"files_moved", m.FilesMoved.Load(),
		"files_overwritten", m.FilesOverwritten.Load(),
		"dirs_removed", m.DirsRemoved.Load(),
		"move_failures", m.MoveFailures.Load(),
		"remove_failures", m.RemoveFailures.Load(),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesMoved(n int64)                            {}
func (m *NoopMetrics) AddFilesOverwritten(n int64)                      {}
func (m *NoopMetrics) AddDirsRemoved(n int64)                           {}
func (m *NoopMetrics) AddMoveFailures(n int64)                          {}
func (m *NoopMetrics) AddRemoveFailures(n int64)                        {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// Statically assert that our types implement the interface.
var _ Metrics = (*FlattenMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
