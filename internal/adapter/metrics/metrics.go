// Package metrics defines the Prometheus collectors of the sticker wall. Every
// set registers on an injected registry so tests can build isolated ones.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stickerwall"

// Set bundles every collector the server exports.
type Set struct {
	Registry  *prometheus.Registry
	HTTP      *HTTPMetrics
	WebSocket *WebSocketMetrics
	Ingest    *IngestMetrics
}

// New creates a registry with runtime collectors and registers all sets on it.
func New() *Set {
	reg := NewRegistry()
	return &Set{
		Registry:  reg,
		HTTP:      NewHTTPMetrics(reg),
		WebSocket: NewWebSocketMetrics(reg),
		Ingest:    NewIngestMetrics(reg),
	}
}

func (s *Set) Handler() http.Handler {
	return Handler(s.Registry)
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
