// Package metrics exposes per-run Prometheus metrics. laps is a short-lived
// process, so metrics are written to a node_exporter textfile at the end of
// each run instead of being served.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Results reported by ObserveRun. Only the current one is set to 1.
var results = []string{"Skipped", "Rotated", "Retrieved", "Failed"}

// Run is what one engine invocation reports.
type Run struct {
	Account   string
	Backend   string
	Result    string
	ErrorKind string
	ExpiresAt time.Time
	Finished  time.Time
	Duration  time.Duration

	// Cumulative counts carried over from the persisted status.
	RotationCount int
	FailureCount  int
}

// RotationMetrics records run metrics into its own registry.
type RotationMetrics struct {
	registry *prometheus.Registry

	expiration     *prometheus.GaugeVec
	lastRun        *prometheus.GaugeVec
	lastResult     *prometheus.GaugeVec
	lastErrorKind  *prometheus.GaugeVec
	runDuration    *prometheus.HistogramVec
	rotationsTotal *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
}

// NewRotationMetrics creates metrics registered on a fresh registry.
func NewRotationMetrics() *RotationMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &RotationMetrics{
		registry: reg,
		expiration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "laps_password_expiration_timestamp_seconds",
				Help: "Unix time at which the escrowed password expires",
			},
			[]string{"account", "backend"},
		),
		lastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "laps_last_run_timestamp_seconds",
				Help: "Unix time the last run finished",
			},
			[]string{"account", "backend"},
		),
		lastResult: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "laps_last_run_result",
				Help: "Outcome of the last run (1 for the reported result, 0 otherwise)",
			},
			[]string{"account", "backend", "result"},
		),
		lastErrorKind: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "laps_last_run_error",
				Help: "Error kind of the last failed run",
			},
			[]string{"account", "backend", "kind"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "laps_run_duration_seconds",
				Help:    "Duration of laps runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"account", "backend"},
		),
		rotationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laps_rotations_total",
				Help: "Total number of successful rotations",
			},
			[]string{"account", "backend"},
		),
		failuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "laps_failures_total",
				Help: "Total number of failed runs",
			},
			[]string{"account", "backend"},
		),
	}
}

// Registry returns the registry backing the metrics.
func (m *RotationMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records one run.
func (m *RotationMetrics) ObserveRun(run Run) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"account": run.Account, "backend": run.Backend}

	if !run.ExpiresAt.IsZero() {
		m.expiration.With(labels).Set(float64(run.ExpiresAt.Unix()))
	}
	if !run.Finished.IsZero() {
		m.lastRun.With(labels).Set(float64(run.Finished.Unix()))
	}
	for _, r := range results {
		value := 0.0
		if r == run.Result {
			value = 1
		}
		m.lastResult.WithLabelValues(run.Account, run.Backend, r).Set(value)
	}
	if run.ErrorKind != "" {
		m.lastErrorKind.WithLabelValues(run.Account, run.Backend, run.ErrorKind).Set(1)
	}
	m.runDuration.With(labels).Observe(run.Duration.Seconds())
	m.rotationsTotal.With(labels).Add(float64(run.RotationCount))
	m.failuresTotal.With(labels).Add(float64(run.FailureCount))
}

// WriteTextfile writes the registry in text exposition format to path.
// The write is atomic, as node_exporter requires.
func (m *RotationMetrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
