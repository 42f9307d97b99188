package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	apiRequestsTotal   *prometheus.CounterVec
	apiLatencySeconds  *prometheus.HistogramVec
	gatewayConnections prometheus.Gauge
	eventsTotal        *prometheus.CounterVec
	messagesSentTotal  *prometheus.CounterVec
	fanoutDropsTotal   prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used by the
// messaging core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		gatewayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections",
			Help: "Number of websocket connections currently registered.",
		})

		eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_events_total",
			Help: "Total number of inbound gateway events dispatched.",
		}, []string{"event", "status"})

		messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total number of chat messages persisted and fanned out.",
		}, []string{"type"})

		fanoutDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_fanout_drops_total",
			Help: "Total number of events dropped for slow consumers.",
		})

		prometheus.MustRegister(apiRequestsTotal, apiLatencySeconds, gatewayConnections, eventsTotal, messagesSentTotal, fanoutDropsTotal)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// GatewayConnections exposes the live connection gauge.
func GatewayConnections() prometheus.Gauge {
	RegisterMetrics()
	return gatewayConnections
}

// GatewayEvents exposes the counter for dispatched inbound events.
func GatewayEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsTotal
}

// MessagesSent exposes the counter for persisted messages by type.
func MessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesSentTotal
}

// FanoutDrops exposes the counter for dropped slow-consumer sends.
func FanoutDrops() prometheus.Counter {
	RegisterMetrics()
	return fanoutDropsTotal
}
