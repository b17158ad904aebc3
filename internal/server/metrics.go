package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries its own registry so independent server instances can
// coexist in one test process without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions      prometheus.Gauge
	quarantinedSessions prometheus.Gauge
	activeRooms         prometheus.Gauge
	reconnectsTotal     prometheus.Counter
	droppedMessages     prometheus.Counter
	rateLimitedTotal    prometheus.Counter
	messagesTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tienlen",
			Name:      "active_sessions",
			Help:      "Number of live WebSocket sessions",
		}),
		quarantinedSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tienlen",
			Name:      "quarantined_sessions",
			Help:      "Number of disconnected sessions inside the reconnect window",
		}),
		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tienlen",
			Name:      "active_rooms",
			Help:      "Number of rooms",
		}),
		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tienlen",
			Name:      "reconnects_total",
			Help:      "Total successful session reconnections",
		}),
		droppedMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tienlen",
			Name:      "dropped_messages_total",
			Help:      "Outbound messages dropped on full or dead send queues",
		}),
		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tienlen",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limiter",
		}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tienlen",
			Name:      "messages_total",
			Help:      "Inbound messages by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
