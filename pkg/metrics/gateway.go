package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics tracks calls to the mobile-money gateway and the callbacks
// it sends back.
type GatewayMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	callbacks *prometheus.CounterVec
}

// NewGatewayMetrics registers gateway metrics. A nil registerer yields a no-op recorder.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Gateway requests by operation and outcome.",
	}, []string{"operation", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Gateway request latency in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "callbacks_total",
		Help:      "Payment callbacks received by mapped result.",
	}, []string{"result"})
	reg.MustRegister(requests, latency, callbacks)
	return &GatewayMetrics{requests: requests, latency: latency, callbacks: callbacks}
}

// ObserveRequest records one gateway call.
func (g *GatewayMetrics) ObserveRequest(operation string, duration time.Duration, err error) {
	if g == nil || g.requests == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	op := normalizeLabel(operation)
	g.requests.WithLabelValues(op, outcome).Inc()
	g.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// IncCallback counts a processed callback by its mapped result.
func (g *GatewayMetrics) IncCallback(result string) {
	if g == nil || g.callbacks == nil {
		return
	}
	g.callbacks.WithLabelValues(normalizeLabel(result)).Inc()
}
