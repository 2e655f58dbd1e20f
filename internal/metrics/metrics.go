// Package metrics exposes paperfs process metrics on a private Prometheus
// registry. All methods are safe on a nil *Metrics so callers never guard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paperfs"

// Refresh results recorded by TokenRefresh.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	pipelineSwaps   prometheus.Counter
	generation      prometheus.Gauge
	notReady        prometheus.Counter
	tokenRefreshes  *prometheus.CounterVec
	pendingLogins   prometheus.Gauge
	storageOps      *prometheus.CounterVec
	storageFailures *prometheus.CounterVec
}

// New registers every collector on a fresh registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pipelineSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_swaps_total",
			Help:      "Storage pipelines installed into the request dispatcher.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_generation",
			Help:      "Generation number of the active storage pipeline.",
		}),
		notReady: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "not_ready_total",
			Help:      "Requests answered with 503 before any login.",
		}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "OAuth2 refresh attempts by result.",
		}, []string{"result"}),
		pendingLogins: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_logins",
			Help:      "Login attempts awaiting their callback.",
		}),
		storageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_ops_total",
			Help:      "Storage operations routed by the multiplexer.",
		}, []string{"backend", "op"}),
		storageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Storage operations that returned an error.",
		}, []string{"backend", "op"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pipelineSwaps,
		m.generation,
		m.notReady,
		m.tokenRefreshes,
		m.pendingLogins,
		m.storageOps,
		m.storageFailures,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// PipelineSwapped records the installation of pipeline generation gen.
func (m *Metrics) PipelineSwapped(gen uint64) {
	if m == nil {
		return
	}

	m.pipelineSwaps.Inc()
	m.generation.Set(float64(gen))
}

// NotReady counts a request rejected before the first pipeline.
func (m *Metrics) NotReady() {
	if m == nil {
		return
	}

	m.notReady.Inc()
}

// TokenRefresh counts one refresh attempt.
func (m *Metrics) TokenRefresh(err error) {
	if m == nil {
		return
	}

	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}

	m.tokenRefreshes.WithLabelValues(result).Inc()
}

// PendingLogins sets the number of outstanding login attempts.
func (m *Metrics) PendingLogins(n int) {
	if m == nil {
		return
	}

	m.pendingLogins.Set(float64(n))
}

// StorageOp counts one routed storage operation and its failure, if any.
func (m *Metrics) StorageOp(backend, op string, err error) {
	if m == nil {
		return
	}

	m.storageOps.WithLabelValues(backend, op).Inc()

	if err != nil {
		m.storageFailures.WithLabelValues(backend, op).Inc()
	}
}
