package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type jobsMetrics struct {
	transitions *prometheus.CounterVec
	escrowMoved *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	jobsMetricsOnce sync.Once
	jobsRegistry    *jobsMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record JSON-RPC
// handler activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basilisk",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basilisk",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "basilisk",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an RPC request. The status code should be the
// HTTP status ultimately written to the response writer.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method = strings.TrimSpace(method); method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// JobsMetrics returns the registry tracking marketplace state transitions and
// escrow movement.
func JobsMetrics() *jobsMetrics {
	jobsMetricsOnce.Do(func() {
		jobsRegistry = &jobsMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basilisk",
				Subsystem: "jobs",
				Name:      "transitions_total",
				Help:      "Count of job lifecycle transitions segmented by resulting status.",
			}, []string{"status"}),
			escrowMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basilisk",
				Subsystem: "jobs",
				Name:      "escrow_moved_total",
				Help:      "Integer token units moved through job vaults segmented by token and direction.",
			}, []string{"token", "direction"}),
		}
		prometheus.MustRegister(jobsRegistry.transitions, jobsRegistry.escrowMoved)
	})
	return jobsRegistry
}

// RecordTransition increments the transition counter for a job status.
func (m *jobsMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	if status = strings.TrimSpace(status); status == "" {
		status = "unknown"
	}
	m.transitions.WithLabelValues(status).Inc()
}

// RecordEscrow adds the supplied amount to the escrow movement counter.
// Direction should be "deposit" or "release".
func (m *jobsMetrics) RecordEscrow(token, direction string, amount uint64) {
	if m == nil {
		return
	}
	if token = strings.ToUpper(strings.TrimSpace(token)); token == "" {
		token = "UNKNOWN"
	}
	m.escrowMoved.WithLabelValues(token, direction).Add(float64(amount))
}
