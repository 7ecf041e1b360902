// Package metrics holds the Prometheus collectors for the Copilot proxy.
// Collection is off until SetEnabled(true) is called; the Record helpers are
// no-ops while disabled so callers never need to check.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// flowsTotal counts flows by the decision taken for them.
	flowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_proxy_flows_total",
			Help: "Total number of flows grouped by decision",
		},
		[]string{"decision"},
	)

	// upstreamRequestsTotal counts backend requests by protocol and status.
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_proxy_upstream_requests_total",
			Help: "Total backend model requests grouped by protocol and status",
		},
		[]string{"protocol", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copilot_proxy_upstream_header_latency_seconds",
			Help:    "Time until the backend returned response headers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	malformedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "copilot_proxy_malformed_events_total",
			Help: "Total upstream stream events skipped because they could not be parsed",
		},
	)

	relayedBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_proxy_relayed_bytes_total",
			Help: "Total bytes relayed to clients from translated streams",
		},
		[]string{"protocol"},
	)

	// httpRequestsTotal counts requests served by the direct server.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_proxy_http_requests_total",
			Help: "Total number of HTTP requests processed by the direct server",
		},
		[]string{"method", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copilot_proxy_http_request_duration_seconds",
			Help:    "Duration of direct server requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "copilot_proxy_active_streams",
			Help: "Number of translated streams currently being relayed",
		},
	)

	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetEnabled toggles collection.
func SetEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
	if enabled {
		Register()
	}
}

// Enabled reports whether collection is on.
func Enabled() bool {
	return metricsEnabled.Load()
}

// Register registers all collectors with the default registry.
// It is safe to call multiple times.
func Register() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		flowsTotal,
		upstreamRequestsTotal,
		upstreamLatencySeconds,
		malformedEventsTotal,
		relayedBytesTotal,
		httpRequestsTotal,
		httpRequestDurationSeconds,
		activeStreams,
	)
}

// Handler serves the default registry, or 404 while collection is disabled.
func Handler() http.Handler {
	h := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Enabled() {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// RecordFlow counts one flow with the given decision kind.
func RecordFlow(decision string) {
	if !Enabled() {
		return
	}
	flowsTotal.WithLabelValues(decision).Inc()
}

// RecordUpstream counts one backend request. status is 0 when the request
// failed before a response arrived.
func RecordUpstream(protocol string, status int, latency time.Duration) {
	if !Enabled() {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
		upstreamLatencySeconds.WithLabelValues(protocol).Observe(latency.Seconds())
	}
	upstreamRequestsTotal.WithLabelValues(protocol, label).Inc()
}

// RecordMalformedEvent counts one skipped upstream event.
func RecordMalformedEvent() {
	if !Enabled() {
		return
	}
	malformedEventsTotal.Inc()
}

// RecordRelayed adds n bytes to the relayed total for protocol.
func RecordRelayed(protocol string, n int) {
	if !Enabled() || n <= 0 {
		return
	}
	relayedBytesTotal.WithLabelValues(protocol).Add(float64(n))
}

// StreamStarted and StreamFinished track streams in flight.
func StreamStarted() {
	if Enabled() {
		activeStreams.Inc()
	}
}

func StreamFinished() {
	if Enabled() {
		activeStreams.Dec()
	}
}

// ObserveHTTP records one direct server request.
func ObserveHTTP(method string, status int, duration time.Duration) {
	if !Enabled() {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}
