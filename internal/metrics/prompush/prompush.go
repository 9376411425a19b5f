// Package prompush pushes run metrics to a Prometheus Pushgateway.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/KaramelBytes/admissions-report/internal/metrics"
)

// Backend implements metrics.Backend on a private registry.
type Backend struct {
	gatewayURL string
	jobName    string
	runID      string
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec
	stepDuration *prometheus.SummaryVec
	sheetCounter *prometheus.CounterVec
	rowCounter   *prometheus.CounterVec
}

// NewBackend registers the collectors. runID, when set, is added as an
// "instance" grouping key so runs do not overwrite each other.
func NewBackend(jobName, gatewayURL, runID string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "admissions_report"
	}
	reg := prometheus.NewRegistry()

	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: metrics.StepTotal, Help: "Workflow steps by step and status."},
		[]string{"step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.StepDurationSeconds,
			Help:       "Workflow step duration in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"step", "status"},
	)
	sheetCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: metrics.SheetsTotal, Help: "Assembled sheets by report kind and status."},
		[]string{"kind", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: metrics.RowsTotal, Help: "Rows written by report kind."},
		[]string{"kind"},
	)
	for _, c := range []prometheus.Collector{stepCounter, stepDuration, sheetCounter, rowCounter} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}
	return &Backend{
		gatewayURL:   gatewayURL,
		jobName:      jobName,
		runID:        runID,
		reg:          reg,
		stepCounter:  stepCounter,
		stepDuration: stepDuration,
		sheetCounter: sheetCounter,
		rowCounter:   rowCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
		}
	case metrics.SheetsTotal:
		if b.sheetCounter != nil {
			b.sheetCounter.WithLabelValues(labels["kind"], labels["status"]).Add(delta)
		}
	case metrics.RowsTotal:
		if b.rowCounter != nil {
			b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
		}
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the registry to the gateway.
func (b *Backend) Flush() error {
	p := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg)
	if b.runID != "" {
		p = p.Grouping("instance", b.runID)
	}
	return p.Push()
}
