// Package metrics exports node lifecycle, scheduler and prediction
// measurements to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/servicetree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "servicetree"

// Metrics implements servicetree.MetricsRecorder, scheduler.Metrics and
// the query service recorder. All methods are nil-safe: calls on a nil
// *Metrics are no-ops.
type Metrics struct {
	// NodeState is 1 for the current state of each node and 0 otherwise.
	NodeState *prometheus.GaugeVec

	// Initializations counts initialization runs by node and result.
	Initializations *prometheus.CounterVec

	// InitializationDuration observes initialization run time per node.
	InitializationDuration *prometheus.HistogramVec

	// StatusChecks counts status checks by node and outcome.
	StatusChecks *prometheus.CounterVec

	// JobRuns counts scheduler job runs by final status.
	JobRuns *prometheus.CounterVec

	// JobDuration observes scheduler job run time by final status.
	JobDuration *prometheus.HistogramVec

	// Predictions counts predict requests by HTTP status code.
	Predictions *prometheus.CounterVec

	// PredictionLatency observes predict request latency.
	PredictionLatency prometheus.Histogram
}

// New creates the collectors and registers them with reg. If reg is nil,
// metrics are created but not registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "state",
			Help:      "Current lifecycle state of each node (1 for the active state)",
		}, []string{"node", "state"}),
		Initializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "initializations_total",
			Help:      "Total number of initialization runs",
		}, []string{"node", "result"}),
		InitializationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "initialization_duration_seconds",
			Help:      "Duration of initialization runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms to ~164s
		}, []string{"node"}),
		StatusChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "status_checks_total",
			Help:      "Total number of status checks",
		}, []string{"node", "ready"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of scheduler job runs by final status",
		}, []string{"status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduler job runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "predictions_total",
			Help:      "Total number of predict requests by status code",
		}, []string{"code"}),
		PredictionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "prediction_latency_seconds",
			Help:      "Latency of predict requests in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
	}

	if reg != nil {
		m.NodeState = registerOrReuse(reg, m.NodeState).(*prometheus.GaugeVec)
		m.Initializations = registerOrReuse(reg, m.Initializations).(*prometheus.CounterVec)
		m.InitializationDuration = registerOrReuse(reg, m.InitializationDuration).(*prometheus.HistogramVec)
		m.StatusChecks = registerOrReuse(reg, m.StatusChecks).(*prometheus.CounterVec)
		m.JobRuns = registerOrReuse(reg, m.JobRuns).(*prometheus.CounterVec)
		m.JobDuration = registerOrReuse(reg, m.JobDuration).(*prometheus.HistogramVec)
		m.Predictions = registerOrReuse(reg, m.Predictions).(*prometheus.CounterVec)
		m.PredictionLatency = registerOrReuse(reg, m.PredictionLatency).(prometheus.Histogram)
	}
	return m
}

// registerOrReuse registers c, returning the already registered collector
// when an identical one exists. Panics on any other registration error.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// RecordState marks state as the active state of node.
func (m *Metrics) RecordState(node, state string) {
	if m == nil {
		return
	}
	for _, s := range servicetree.AllStates() {
		value := 0.0
		if string(s) == state {
			value = 1
		}
		m.NodeState.WithLabelValues(node, string(s)).Set(value)
	}
}

// RecordInitialization records one initialization run.
func (m *Metrics) RecordInitialization(node string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Initializations.WithLabelValues(node, result).Inc()
	m.InitializationDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordStatusCheck records one status check.
func (m *Metrics) RecordStatusCheck(node string, ready bool) {
	if m == nil {
		return
	}
	m.StatusChecks.WithLabelValues(node, strconv.FormatBool(ready)).Inc()
}

// ObserveJob records a finished scheduler job run.
func (m *Metrics) ObserveJob(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(status).Inc()
	m.JobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObservePrediction records a finished predict request.
func (m *Metrics) ObservePrediction(code int, latency time.Duration) {
	if m == nil {
		return
	}
	m.Predictions.WithLabelValues(strconv.Itoa(code)).Inc()
	m.PredictionLatency.Observe(latency.Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
