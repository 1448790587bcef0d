package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "counterchain"

type hostMetrics struct {
	receipts *prometheus.CounterVec
	gas      *prometheus.HistogramVec
	pending  prometheus.Gauge
	height   prometheus.Gauge
}

type counterMetrics struct {
	actions    *prometheus.CounterVec
	settlement *prometheus.CounterVec
	value      prometheus.Gauge
}

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	hostMetricsOnce sync.Once
	hostRegistry    *hostMetrics

	counterMetricsOnce sync.Once
	counterRegistry    *counterMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// Host returns the lazily-initialised registry tracking receipt execution.
func Host() *hostMetrics {
	hostMetricsOnce.Do(func() {
		hostRegistry = &hostMetrics{
			receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "host",
				Name:      "receipts_total",
				Help:      "Executed sub-invocations segmented by executor, method, and outcome.",
			}, []string{"executor", "method", "outcome"}),
			gas: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "host",
				Name:      "gas_burnt",
				Help:      "Gas burnt per sub-invocation.",
				Buckets:   prometheus.ExponentialBuckets(1e9, 4, 10),
			}, []string{"executor", "method"}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "host",
				Name:      "pending_receipts",
				Help:      "Receipts waiting to execute.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "host",
				Name:      "height",
				Help:      "Height of the last executed sub-invocation.",
			}),
		}
		prometheus.MustRegister(hostRegistry.receipts, hostRegistry.gas, hostRegistry.pending, hostRegistry.height)
	})
	return hostRegistry
}

// ObserveReceipt records one executed sub-invocation.
func (m *hostMetrics) ObserveReceipt(executor, method string, success bool, gasBurnt uint64, height uint64) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	executor = normalise(executor)
	method = normalise(method)
	m.receipts.WithLabelValues(executor, method, outcome).Inc()
	m.gas.WithLabelValues(executor, method).Observe(float64(gasBurnt))
	m.height.Set(float64(height))
}

// SetPending reports the current receipt backlog.
func (m *hostMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// Counter returns the lazily-initialised registry for the counter program.
func Counter() *counterMetrics {
	counterMetricsOnce.Do(func() {
		counterRegistry = &counterMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "counter",
				Name:      "actions_total",
				Help:      "Committed counter actions segmented by requested and resolved kind.",
			}, []string{"requested", "resolved"}),
			settlement: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "counter",
				Name:      "settlement_stages_total",
				Help:      "Settlement stage completions segmented by stage and outcome.",
			}, []string{"stage", "outcome"}),
			value: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "counter",
				Name:      "value",
				Help:      "Last committed counter value, clamped to float64 range.",
			}),
		}
		prometheus.MustRegister(counterRegistry.actions, counterRegistry.settlement, counterRegistry.value)
	})
	return counterRegistry
}

// RecordAction counts a committed action. The gauge tracks the new value.
func (m *counterMetrics) RecordAction(requested, resolved string, value float64) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(normalise(requested), normalise(resolved)).Inc()
	m.value.Set(value)
}

// RecordSettlement counts the completion of a settlement stage.
func (m *counterMetrics) RecordSettlement(stage string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.settlement.WithLabelValues(normalise(stage), outcome).Inc()
}

// RPC returns the lazily-initialised registry for the JSON-RPC surface.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency, rpcRegistry.throttles)
	})
	return rpcRegistry
}

// Observe records one JSON-RPC call.
func (m *rpcMetrics) Observe(method string, failed bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	method = normalise(method)
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle counts a rate-limited request.
func (m *rpcMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalise(route)).Inc()
}

func normalise(label string) string {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
