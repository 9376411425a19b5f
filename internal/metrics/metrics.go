// Package metrics records run metrics through a pluggable backend. The
// default backend discards everything.
package metrics

import "time"

const (
	StepTotal           = "admreport_step_total"
	StepDurationSeconds = "admreport_step_duration_seconds"
	SheetsTotal         = "admreport_sheets_total"
	RowsTotal           = "admreport_rows_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend receives counter and duration observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs b. nil keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

func Flush() error { return backend.Flush() }

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordStep counts one workflow step (sign-in, fetch, transform, write,
// email) and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	lbls := Labels{"job": job, "step": step, "status": status(err)}
	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordSheet counts one assembled sheet and its data rows.
func RecordSheet(job, kind string, rows int, err error) {
	backend.IncCounter(SheetsTotal, 1, Labels{"job": job, "kind": kind, "status": status(err)})
	if rows > 0 {
		backend.IncCounter(RowsTotal, float64(rows), Labels{"job": job, "kind": kind})
	}
}
