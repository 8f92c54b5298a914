// Package metrics holds the Prometheus collectors of the generation pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry          *prometheus.Registry
	sessionsStarted   prometheus.Counter
	lockRejections    prometheus.Counter
	activeSessions    prometheus.Gauge
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	resyncs           *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scenegen_sessions_started_total",
			Help: "Generation sessions accepted.",
		}),
		lockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scenegen_session_lock_rejections_total",
			Help: "Generation requests rejected because the project lock was held.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scenegen_active_sessions",
			Help: "Generation sessions currently running in this process.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scenegen_operations_total",
			Help: "Executed operations by type and result.",
		}, []string{"type", "result"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scenegen_operation_duration_seconds",
			Help:    "Operation execution time.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"type"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scenegen_resyncs_total",
			Help: "Client cache reconciliations after finalized, by outcome (fetched or elided).",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.sessionsStarted,
		m.lockRejections,
		m.activeSessions,
		m.operations,
		m.operationDuration,
		m.resyncs,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Metrics) SessionRunning() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionFinished() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) LockRejected() {
	if m == nil {
		return
	}
	m.lockRejections.Inc()
}

// OperationDone records one executed operation.
func (m *Metrics) OperationDone(opType string, success bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.operations.WithLabelValues(opType, result).Inc()
	m.operationDuration.WithLabelValues(opType).Observe(took.Seconds())
}

// Resync records a reconciliation; elided is true when the fetch was skipped.
func (m *Metrics) Resync(elided bool) {
	if m == nil {
		return
	}
	outcome := "fetched"
	if elided {
		outcome = "elided"
	}
	m.resyncs.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
