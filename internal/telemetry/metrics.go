// Package telemetry exposes Prometheus metrics for ingestion, embedding and search.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docsearch"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SearchTotal      *prometheus.CounterVec
	SearchDuration   *prometheus.HistogramVec
	ChunksIngested   *prometheus.CounterVec
	EmbeddingBatches *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SearchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_total",
				Help:      "Total number of searches",
			},
			[]string{"mode", "status"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "Search duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"mode"},
		),
		ChunksIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_ingested_total",
				Help:      "Total chunks ingested per backend",
			},
			[]string{"backend"},
		),
		EmbeddingBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_batches_total",
				Help:      "Total embedding batches per model",
			},
			[]string{"model", "status"}, // "success" / "error"
		),
	}

	if reg != nil {
		reg.MustRegister(m.SearchTotal, m.SearchDuration, m.ChunksIngested, m.EmbeddingBatches)
	}
	return m
}

// ObserveSearch records one search.
func (m *Metrics) ObserveSearch(mode string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchTotal.WithLabelValues(mode, status(err)).Inc()
	m.SearchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// AddChunks records n chunks ingested by backend.
func (m *Metrics) AddChunks(backend string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksIngested.WithLabelValues(backend).Add(float64(n))
}

// ObserveEmbeddingBatch records one embedding batch.
func (m *Metrics) ObserveEmbeddingBatch(model string, err error) {
	if m == nil {
		return
	}
	m.EmbeddingBatches.WithLabelValues(model, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
