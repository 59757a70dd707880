package pathunpackmetrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-unpack/pkg/plog"
)

// Metrics defines the interface for collecting and reporting extraction statistics.
type Metrics interface {
	AddArchivesExtracted(n int64)
	AddArchivesFailed(n int64)
	AddArchivesSkipped(n int64)
	AddEntriesProcessed(n int64)
	AddBytesRead(n int64)
	AddBytesWritten(n int64)
	LogSummary(msg string)
	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// ExtractionMetrics holds the atomic counters for tracking an extraction run.
// Counters are safe to update from several extraction workers at once.
type ExtractionMetrics struct {
	ArchivesExtracted atomic.Int64
	ArchivesFailed    atomic.Int64
	ArchivesSkipped   atomic.Int64
	EntriesProcessed  atomic.Int64
	BytesRead         atomic.Int64
	BytesWritten      atomic.Int64

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

func (m *ExtractionMetrics) AddArchivesExtracted(n int64) { m.ArchivesExtracted.Add(n) }
func (m *ExtractionMetrics) AddArchivesFailed(n int64)    { m.ArchivesFailed.Add(n) }
func (m *ExtractionMetrics) AddArchivesSkipped(n int64)   { m.ArchivesSkipped.Add(n) }
func (m *ExtractionMetrics) AddEntriesProcessed(n int64)  { m.EntriesProcessed.Add(n) }
func (m *ExtractionMetrics) AddBytesRead(n int64)         { m.BytesRead.Add(n) }
func (m *ExtractionMetrics) AddBytesWritten(n int64)      { m.BytesWritten.Add(n) }

func (m *ExtractionMetrics) StartProgress(msg string, interval time.Duration) {
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

func (m *ExtractionMetrics) StopProgress() {
	if m.stopChan == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stopChan) })
	// Wait for the ticker goroutine so no progress line is written after Stop returns.
	<-m.doneChan
}

// LogSummary logs the current state of the metrics.
// This can be called by a background ticker or at the end of the run.
func (m *ExtractionMetrics) LogSummary(msg string) {
	plog.Info(msg,
		"archives_extracted", m.ArchivesExtracted.Load(),
		"archives_failed", m.ArchivesFailed.Load(),
		"archives_skipped", m.ArchivesSkipped.Load(),
		"entries_processed", m.EntriesProcessed.Load(),
		"bytes_read", m.BytesRead.Load(),
		"bytes_written", m.BytesWritten.Load(),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddArchivesExtracted(n int64)                     {}
func (m *NoopMetrics) AddArchivesFailed(n int64)                        {}
func (m *NoopMetrics) AddArchivesSkipped(n int64)                       {}
func (m *NoopMetrics) AddEntriesProcessed(n int64)                      {}
func (m *NoopMetrics) AddBytesRead(n int64)                             {}
func (m *NoopMetrics) AddBytesWritten(n int64)                          {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// Statically assert that our types implement the interface.
var _ Metrics = (*ExtractionMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
