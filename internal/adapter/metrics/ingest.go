package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics holds Prometheus metrics for the sticker submission pipeline.
type IngestMetrics struct {
	Submissions    *prometheus.CounterVec
	PersistLatency prometheus.Histogram
}

// NewIngestMetrics creates and registers ingestion metrics on the given registry.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "submissions_total",
			Help:      "Total number of sticker submissions, by outcome.",
		}, []string{"outcome"}),
		PersistLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "persist_duration_seconds",
			Help:      "Duration of the catalog transaction including the payload write.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}

	reg.MustRegister(m.Submissions, m.PersistLatency)
	return m
}

func (m *IngestMetrics) SubmissionProcessed(outcome string) {
	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *IngestMetrics) PersistDuration(d time.Duration) {
	m.PersistLatency.Observe(d.Seconds())
}
