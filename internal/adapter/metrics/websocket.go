package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for producer and subscriber connections.
type WebSocketMetrics struct {
	ActiveConnections   *prometheus.GaugeVec
	MessagesPublished   *prometheus.CounterVec
	ClientsEvicted      *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections, by role.",
		}, []string{"role"}),
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_published_total",
			Help:      "Total number of WebSocket frames enqueued to subscribers, by event type.",
		}, []string{"event"}),
		ClientsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "clients_evicted_total",
			Help:      "Total number of clients detached because their queue was full or closed.",
		}, []string{"role"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Total number of refused WebSocket handshakes, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesPublished, m.ClientsEvicted, m.ConnectionsRejected)
	return m
}

func (m *WebSocketMetrics) ClientConnected(role string) {
	m.ActiveConnections.WithLabelValues(role).Inc()
}

func (m *WebSocketMetrics) ClientDisconnected(role string) {
	m.ActiveConnections.WithLabelValues(role).Dec()
}

func (m *WebSocketMetrics) EventPublished(eventType string, recipients int) {
	m.MessagesPublished.WithLabelValues(eventType).Add(float64(recipients))
}

func (m *WebSocketMetrics) ClientEvicted(role string) {
	m.ClientsEvicted.WithLabelValues(role).Inc()
}

func (m *WebSocketMetrics) ConnectionRejected(reason string) {
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}
