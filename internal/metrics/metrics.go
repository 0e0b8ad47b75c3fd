// Package metrics holds the Prometheus collectors for workflow execution.
//
// Metrics exposed (namespace "roast"):
//
//	step_duration_seconds (histogram) labels: kind, status
//	step_errors_total (counter)       labels: kind, code
//	retry_attempts_total (counter)    labels: step, outcome (retry, success, failure)
//	snapshots_saved_total (counter)
//	snapshot_failures_total (counter)
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roast"

// Retry outcomes.
const (
	OutcomeRetry   = "retry"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics groups the collectors registered for one engine.
type Metrics struct {
	stepDuration     *prometheus.HistogramVec
	stepErrors       *prometheus.CounterVec
	retryAttempts    *prometheus.CounterVec
	snapshotsSaved   prometheus.Counter
	snapshotFailures prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step executions.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"kind", "status"}),
		stepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_errors_total",
			Help:      "Step executions that ended in an error, by error code.",
		}, []string{"kind", "code"}),
		retryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retry lifecycle events per step.",
		}, []string{"step", "outcome"}),
		snapshotsSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_saved_total",
			Help:      "State snapshots persisted.",
		}),
		snapshotFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_failures_total",
			Help:      "State snapshots that failed to persist.",
		}),
	}
}

// ObserveStep records one step execution.
func (m *Metrics) ObserveStep(kind string, d time.Duration, err error, code string) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		m.stepErrors.WithLabelValues(kind, code).Inc()
	}
	m.stepDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

// IncRetry records a retry lifecycle event for step.
func (m *Metrics) IncRetry(step, outcome string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(step, outcome).Inc()
}

// IncSnapshot records a snapshot write.
func (m *Metrics) IncSnapshot(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.snapshotFailures.Inc()
		return
	}
	m.snapshotsSaved.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
