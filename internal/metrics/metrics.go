// Package metrics is the backend-neutral metrics surface of the pipeline.
//
// Components call the package-level helpers. The process picks a backend once
// at startup with SetBackend; until then every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends ignore names they do not know.
const (
	StepTotal           = "etl_step_total"
	StepDurationSeconds = "etl_step_duration_seconds"
	RecordsTotal        = "etl_records_total"
	BatchesTotal        = "etl_batches_total"
	DimensionRowsTotal  = "etl_dimension_rows_total"
	DivergenceTotal     = "etl_divergence_total"
)

// Dimension outcomes for DimensionRowsTotal.
const (
	DimensionCreated  = "created"
	DimensionReused   = "reused"
	DimensionConflict = "conflict"
)

type Labels map[string]string

type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}
func (nop) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b as the process backend. nil restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nop{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

func Flush() error { return current().Flush() }

// RecordStep counts one pipeline step and observes its duration.
// status is "ok" or "error".
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// StepStatus maps an error onto a step status label.
func StepStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordRecords counts records by kind (read, loaded, inserted, updated,
// skipped, normalized).
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

func RecordBatch() { IncCounter(BatchesTotal, 1, nil) }

func RecordDimension(table, outcome string) {
	IncCounter(DimensionRowsTotal, 1, Labels{"table": table, "outcome": outcome})
}

func RecordDivergence(op string) {
	IncCounter(DivergenceTotal, 1, Labels{"op": op})
}
