// Package metrics exposes Prometheus metrics for the decision pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plugandtel/callpolicy/internal/policy"
)

// Metrics counts pipeline outcomes and per-step data-layer failures, and
// exports process uptime. It implements policy.Recorder.
type Metrics struct {
	decisions    *prometheus.CounterVec
	stepFailures *prometheus.CounterVec
	startTime    time.Time

	uptimeDesc *prometheus.Desc
}

// New creates the metrics set and registers it with reg.
func New(reg prometheus.Registerer, startTime time.Time) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callpolicy_decisions_total",
			Help: "Total pipeline decisions by outcome",
		}, []string{"outcome"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callpolicy_step_failures_total",
			Help: "Policy store failures scoped to a pipeline step",
		}, []string{"step"}),
		startTime: startTime,
		uptimeDesc: prometheus.NewDesc(
			"callpolicy_uptime_seconds",
			"Seconds since the callpolicy process started",
			nil, nil,
		),
	}

	reg.MustRegister(m.decisions, m.stepFailures, m)
	return m
}

// ObserveDecision implements policy.Recorder.
func (m *Metrics) ObserveDecision(outcome policy.Outcome) {
	m.decisions.WithLabelValues(string(outcome)).Inc()
}

// ObserveStepFailure implements policy.Recorder.
func (m *Metrics) ObserveStepFailure(step string) {
	m.stepFailures.WithLabelValues(step).Inc()
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.uptimeDesc
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		m.uptimeDesc, prometheus.GaugeValue,
		time.Since(m.startTime).Seconds(),
	)
}

// Ensure Metrics satisfies policy.Recorder.
var _ policy.Recorder = (*Metrics)(nil)
