package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// IngestMetrics tracks the worker-side document pipeline and the embedding
// cache it drives.
type IngestMetrics struct {
	registry *prometheus.Registry

	documentsTotal  *prometheus.CounterVec
	ingestDuration  *prometheus.HistogramVec
	ingestInFlight  prometheus.Gauge
	cacheHitsTotal  prometheus.Counter
	cacheMissTotal  prometheus.Counter
	chunksIndexed   prometheus.Counter
	snapshotSeconds prometheus.Histogram
}

func NewIngestMetrics(service string) *IngestMetrics {
	registry := prometheus.NewRegistry()

	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cqa",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents driven through the ingestion pipeline by outcome.",
		},
		[]string{"service", "status"},
	)
	ingestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cqa",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Ingestion duration per document by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	ingestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cqa",
			Subsystem: "ingest",
			Name:      "in_flight",
			Help:      "Documents currently being ingested.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	cacheHitsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "cqa",
		Subsystem:   "embedding_cache",
		Name:        "hits_total",
		Help:        "Embedding cache hits.",
		ConstLabels: prometheus.Labels{"service": service},
	})
	cacheMissTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "cqa",
		Subsystem:   "embedding_cache",
		Name:        "misses_total",
		Help:        "Embedding cache misses (each one costs an embed call).",
		ConstLabels: prometheus.Labels{"service": service},
	})
	chunksIndexed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "cqa",
		Subsystem:   "ingest",
		Name:        "chunks_indexed_total",
		Help:        "Chunks upserted into the vector index.",
		ConstLabels: prometheus.Labels{"service": service},
	})
	snapshotSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "cqa",
		Subsystem:   "index",
		Name:        "snapshot_seconds",
		Help:        "Vector index snapshot persist duration.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		ConstLabels: prometheus.Labels{"service": service},
	})

	registry.MustRegister(documentsTotal, ingestDuration, ingestInFlight, cacheHitsTotal, cacheMissTotal, chunksIndexed, snapshotSeconds)

	return &IngestMetrics{
		registry:        registry,
		documentsTotal:  documentsTotal,
		ingestDuration:  ingestDuration,
		ingestInFlight:  ingestInFlight,
		cacheHitsTotal:  cacheHitsTotal,
		cacheMissTotal:  cacheMissTotal,
		chunksIndexed:   chunksIndexed,
		snapshotSeconds: snapshotSeconds,
	}
}

func (m *IngestMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *IngestMetrics) StartDocument() {
	m.ingestInFlight.Inc()
}

func (m *IngestMetrics) FinishDocument(service string, duration time.Duration, err error) {
	m.ingestInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.documentsTotal.WithLabelValues(service, status).Inc()
	m.ingestDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *IngestMetrics) CacheHit()  { m.cacheHitsTotal.Inc() }
func (m *IngestMetrics) CacheMiss() { m.cacheMissTotal.Inc() }

func (m *IngestMetrics) ChunksIndexed(n int) {
	m.chunksIndexed.Add(float64(n))
}

func (m *IngestMetrics) ObserveSnapshot(duration time.Duration) {
	m.snapshotSeconds.Observe(duration.Seconds())
}
