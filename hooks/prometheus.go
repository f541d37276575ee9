package hooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Skryldev/image-loader/core"
)

// PrometheusMetrics exports engine observations as Prometheus metrics.
type PrometheusMetrics struct {
	stageDuration *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	decodedBytes  prometheus.Counter
	memoryCache   prometheus.Gauge
}

// NewPrometheusMetrics registers the collectors with reg. Pass a fresh
// prometheus.NewRegistry() per engine in tests; prometheus.DefaultRegisterer
// allows only one instance per process.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "imageloader"
	}
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of load stages (fetch, decode, transform, encode, cache_decode).",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"stage"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed load stages by error category.",
		}, []string{"stage", "category"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		decodedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoded_bytes_total",
			Help:      "Estimated bytes of decoded resources.",
		}),
		memoryCache: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_cache_bytes",
			Help:      "Bytes held by the memory cache after the last insert.",
		}),
	}
}

func (p *PrometheusMetrics) RecordProcessingTime(stage string, d interface{ Seconds() float64 }) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusMetrics) RecordThroughput(bytes int64) { p.decodedBytes.Add(float64(bytes)) }

func (p *PrometheusMetrics) RecordMemory(bytes int64) { p.memoryCache.Set(float64(bytes)) }

func (p *PrometheusMetrics) RecordError(stage, category string) {
	p.errors.WithLabelValues(stage, category).Inc()
}

func (p *PrometheusMetrics) RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cacheLookups.WithLabelValues(tier, result).Inc()
}

var _ core.MetricsCollector = (*PrometheusMetrics)(nil)
