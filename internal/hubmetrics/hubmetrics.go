// Package hubmetrics exposes the hub's internal self-instrumentation on
// /metrics via github.com/prometheus/client_golang.
package hubmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"starhub/protocol"
)

// Metrics holds every gauge/counter the hub updates. It owns a private
// prometheus.Registry rather than using the global default, so multiple
// hubs (as in tests) never collide on metric registration.
type Metrics struct {
	registry *prometheus.Registry

	connectionsOpen      *prometheus.GaugeVec
	connectionsOpened    *prometheus.CounterVec
	connectionsClosed    *prometheus.CounterVec
	connectionsPruned    *prometheus.CounterVec
	handshakeRejections  *prometheus.CounterVec
	envelopesRouted      prometheus.Counter
	envelopesDelivered   prometheus.Counter
	envelopesUndelivered prometheus.Counter
}

// New constructs a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connectionsOpen: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "starhub_connections_open",
			Help: "Currently open connections by client kind.",
		}, []string{"kind"}),
		connectionsOpened: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "starhub_connections_opened_total",
			Help: "Connections accepted by client kind.",
		}, []string{"kind"}),
		connectionsClosed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "starhub_connections_closed_total",
			Help: "Connections closed by client kind.",
		}, []string{"kind"}),
		connectionsPruned: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "starhub_connections_pruned_total",
			Help: "Connections removed by the heartbeat sweeper, by client kind.",
		}, []string{"kind"}),
		handshakeRejections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "starhub_handshake_rejections_total",
			Help: "Rejected handshakes by reason.",
		}, []string{"reason"}),
		envelopesRouted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "starhub_envelopes_routed_total",
			Help: "Envelopes passed to the router.",
		}),
		envelopesDelivered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "starhub_envelope_deliveries_total",
			Help: "Successful per-target envelope deliveries.",
		}),
		envelopesUndelivered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "starhub_envelopes_undelivered_total",
			Help: "Routed envelopes that reached zero targets.",
		}),
	}
	return m
}

// Handler exposes the metrics registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened records a newly registered connection.
func (m *Metrics) ConnectionOpened(kind protocol.ClientKind) {
	m.connectionsOpen.WithLabelValues(string(kind)).Inc()
	m.connectionsOpened.WithLabelValues(string(kind)).Inc()
}

// ConnectionClosed records a connection leaving the registry through normal
// disconnect or write failure.
func (m *Metrics) ConnectionClosed(kind protocol.ClientKind) {
	m.connectionsOpen.WithLabelValues(string(kind)).Dec()
	m.connectionsClosed.WithLabelValues(string(kind)).Inc()
}

// ConnectionPruned records a connection removed by the heartbeat sweeper.
func (m *Metrics) ConnectionPruned(kind protocol.ClientKind) {
	m.connectionsOpen.WithLabelValues(string(kind)).Dec()
	m.connectionsPruned.WithLabelValues(string(kind)).Inc()
}

// HandshakeRejected records a rejected handshake by reason (e.g.
// "malformed", "overloaded", "duplicate", "registration_failed").
func (m *Metrics) HandshakeRejected(reason string) {
	m.handshakeRejections.WithLabelValues(reason).Inc()
}

// EnvelopeRouted records one router decision and its delivered count.
func (m *Metrics) EnvelopeRouted(delivered int) {
	m.envelopesRouted.Inc()
	if delivered > 0 {
		m.envelopesDelivered.Add(float64(delivered))
	} else {
		m.envelopesUndelivered.Inc()
	}
}
