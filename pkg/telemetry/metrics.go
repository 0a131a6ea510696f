package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for policy evaluation runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Parse metrics
	parseDuration *prometheus.HistogramVec
	parseErrors   *prometheus.CounterVec

	// Policy metrics
	policiesLoaded   prometheus.Gauge
	policiesSelected prometheus.Gauge

	// Result metrics
	resultsByVerdict *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector. When disabled, every record
// method is a no-op.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of evaluation runs started",
			},
			[]string{"workspace"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of evaluation runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of evaluation runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		parseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "parse_duration_seconds",
				Help:      "Duration of IaC source parsing in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"format"},
		),
		parseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parse_errors_total",
				Help:      "Total number of parse failures by error class",
			},
			[]string{"class"},
		),

		policiesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "policies_loaded",
				Help:      "Number of policies loaded from the policy directory",
			},
		),
		policiesSelected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "policies_selected",
				Help:      "Number of policies selected by the execution filter",
			},
		),

		resultsByVerdict: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "results_total",
				Help:      "Total number of per-resource results by verdict and severity",
			},
			[]string{"verdict", "severity"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.parseDuration,
		m.parseErrors,
		m.policiesLoaded,
		m.policiesSelected,
		m.resultsByVerdict,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(workspace string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(workspace).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordParse records a parse pass for the given IaC format.
func (m *Metrics) RecordParse(format string, duration time.Duration) {
	if m.parseDuration == nil {
		return
	}
	m.parseDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordParseError records a parse failure by error class.
func (m *Metrics) RecordParseError(class string) {
	if m.parseErrors == nil {
		return
	}
	m.parseErrors.WithLabelValues(class).Inc()
}

// SetPolicyCounts records the loaded and selected policy counts.
func (m *Metrics) SetPolicyCounts(loaded, selected int) {
	if m.policiesLoaded == nil {
		return
	}
	m.policiesLoaded.Set(float64(loaded))
	m.policiesSelected.Set(float64(selected))
}

// RecordResult records one per-resource result.
func (m *Metrics) RecordResult(verdict, severity string) {
	if m.resultsByVerdict == nil {
		return
	}
	m.resultsByVerdict.WithLabelValues(verdict, severity).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. Used by
// watch mode, where the process is long-lived.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
