package observability

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus series this SDK emits. Scoped to what the
// runtime actually produces: HTTP edge counters, tool-dispatch counters and
// latencies, event-processor throughput, and proxy availability gauges.
type Metrics struct {
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	dispatchTotal *prometheus.CounterVec
	dispatchSecs  *prometheus.HistogramVec
	eventsHandled *prometheus.CounterVec
	eventQueue    prometheus.Gauge
	proxyUp       *prometheus.GaugeVec
}

// NewMetrics creates and registers the SDK's metric series against reg.
// Pass prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose them on the default /metrics path.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_http_requests_total",
			Help: "Total HTTP requests served by the agent's transport.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mesh_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_tool_dispatch_total",
			Help: "Total tool-wrapper invocations, by capability and outcome.",
		}, []string{"capability", "outcome"}),
		dispatchSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mesh_tool_dispatch_duration_seconds",
			Help:    "Tool-wrapper invocation duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"capability"}),
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_events_handled_total",
			Help: "Total topology events drained by the event processor, by kind.",
		}, []string{"kind"}),
		eventQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_event_queue_depth",
			Help: "Approximate depth of the pending topology-event poll.",
		}),
		proxyUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mesh_proxy_available",
			Help: "1 if a typed proxy is currently available, 0 otherwise.",
		}, []string{"endpoint", "function"}),
	}

	for _, c := range []prometheus.Collector{
		m.httpRequests, m.httpDuration, m.dispatchTotal, m.dispatchSecs,
		m.eventsHandled, m.eventQueue, m.proxyUp,
	} {
		if reg != nil {
			reg.MustRegister(c)
		}
	}

	return m
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(_ context.Context, method, route string, status int, dur time.Duration, _ int) {
	if m == nil {
		return
	}
	statusStr := statusClass(status)
	m.httpRequests.WithLabelValues(method, route, statusStr).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(dur.Seconds())
}

// RecordDispatch records one tool-wrapper invocation.
func (m *Metrics) RecordDispatch(capability, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(capability, outcome).Inc()
	m.dispatchSecs.WithLabelValues(capability).Observe(dur.Seconds())
}

// RecordEvent records one topology event handled by the event processor.
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.eventsHandled.WithLabelValues(kind).Inc()
}

// SetQueueDepth reports the processor's current backlog estimate.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.eventQueue.Set(float64(n))
}

// SetProxyAvailable reports a typed proxy's availability flip.
func (m *Metrics) SetProxyAvailable(endpoint, function string, available bool) {
	if m == nil {
		return
	}
	v := 0.0
	if available {
		v = 1.0
	}
	m.proxyUp.WithLabelValues(endpoint, function).Set(v)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

var (
	globalMetricsMu sync.RWMutex
	globalMetrics   *Metrics
)

// SetGlobalMetrics installs the process-wide Metrics instance. Called once
// by the runtime during startup.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide Metrics instance, or nil if the
// runtime hasn't installed one yet (callers must tolerate nil).
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	return globalMetrics
}
