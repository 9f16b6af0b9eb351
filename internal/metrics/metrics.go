// Package metrics records operational metrics for upsert jobs behind a small,
// backend-agnostic interface.
//
// A global backend defaults to a no-op, so the engine can always call
// RecordStep and RecordRow; the CLI installs a Prometheus Pushgateway or
// Datadog backend from the subpackages when configured.
package metrics

import "time"

// Metric names shared by every backend.
const (
	StepTotal              = "upsert_step_total"
	StepDurationSeconds    = "upsert_step_duration_seconds"
	RowsTotal              = "upsert_rows_total"
	IntegrityFailuresTotal = "upsert_integrity_failures_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of an upsert phase (validate, stage, copy,
// update, insert, drop, write) and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow adds delta rows of the given kind: copied, updated, inserted or
// skipped.
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordIntegrityFailure counts a write rolled back because the reconciled
// row count did not match the staged rows.
func RecordIntegrityFailure(job string) {
	backend.IncCounter(IntegrityFailuresTotal, 1, Labels{
		"job": job,
	})
}
