package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QueryMetrics tracks the retrieval path.
type QueryMetrics struct {
	registry *prometheus.Registry

	queriesTotal    *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	rerankFallbacks prometheus.Counter
	citationsCount  prometheus.Histogram
}

func NewQueryMetrics(service string) *QueryMetrics {
	registry := prometheus.NewRegistry()

	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cqa",
			Subsystem: "query",
			Name:      "total",
			Help:      "Queries served by outcome.",
		},
		[]string{"service", "outcome"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cqa",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end query duration by outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service", "outcome"},
	)
	rerankFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "cqa",
		Subsystem:   "query",
		Name:        "rerank_fallbacks_total",
		Help:        "Queries that fell back to similarity order because scoring failed.",
		ConstLabels: prometheus.Labels{"service": service},
	})
	citationsCount := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "cqa",
		Subsystem:   "query",
		Name:        "citations_per_answer",
		Help:        "Citations attached per answered query.",
		Buckets:     []float64{0, 1, 2, 3, 5, 8, 13, 21},
		ConstLabels: prometheus.Labels{"service": service},
	})

	registry.MustRegister(queriesTotal, queryDuration, rerankFallbacks, citationsCount)

	return &QueryMetrics{
		registry:        registry,
		queriesTotal:    queriesTotal,
		queryDuration:   queryDuration,
		rerankFallbacks: rerankFallbacks,
		citationsCount:  citationsCount,
	}
}

func (m *QueryMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *QueryMetrics) FinishQuery(service, outcome string, duration time.Duration) {
	m.queriesTotal.WithLabelValues(service, outcome).Inc()
	m.queryDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

func (m *QueryMetrics) RerankFallback() {
	m.rerankFallbacks.Inc()
}

func (m *QueryMetrics) ObserveCitations(n int) {
	m.citationsCount.Observe(float64(n))
}
