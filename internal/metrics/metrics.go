// Package metrics provides Prometheus metrics for gene task scheduling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeAbsent  = "absent"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
)

// Metrics holds the scheduler metrics on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	TasksTotal    *prometheus.CounterVec
	TaskDuration  prometheus.Histogram
	TasksInFlight prometheus.Gauge
	Abandoned     prometheus.Gauge
	Clusters      prometheus.Counter
}

// New creates metrics registered on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "clipper"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gene_tasks_total",
				Help:      "Gene tasks resolved, by outcome",
			},
			[]string{"outcome"},
		),
		TaskDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gene_task_duration_seconds",
				Help:      "Wall-clock time spent per gene task",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
		TasksInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gene_tasks_in_flight",
				Help:      "Gene detector calls currently running, including abandoned ones",
			},
		),
		Abandoned: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gene_tasks_abandoned",
				Help:      "Timed-out gene detector calls that have not returned yet",
			},
		),
		Clusters: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clusters_detected_total",
				Help:      "Candidate clusters returned by the detector",
			},
		),
	}
}

// Observe records one resolved task.
func (m *Metrics) Observe(outcome string, elapsed time.Duration, clusters int) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(outcome).Inc()
	m.TaskDuration.Observe(elapsed.Seconds())
	m.Clusters.Add(float64(clusters))
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics in the text exposition format, for the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
