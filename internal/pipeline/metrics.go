package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for batch runs on a private registry, so
// a one-shot CLI can dump them to a node_exporter textfile.
//
// Metrics:
//   - embedkit_pipeline_records_total{status} - records written or failed
//   - embedkit_pipeline_chunk_duration_seconds - time to embed one chunk
//   - embedkit_pipeline_cache_hits_total - cache hits
//   - embedkit_pipeline_cache_misses_total - cache misses
//   - embedkit_pipeline_last_run_duration_seconds - wall time of the last run
//   - embedkit_pipeline_last_run_timestamp_seconds - when the last run ended
type Metrics struct {
	Registry *prometheus.Registry

	Records         *prometheus.CounterVec
	ChunkDuration   prometheus.Histogram
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	LastRunDuration prometheus.Gauge
	LastRunTime     prometheus.Gauge
}

// NewMetrics registers pipeline metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Records: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedkit_pipeline_records_total",
				Help: "Total number of input texts processed, by outcome",
			},
			[]string{"status"}, // "written" or "failed"
		),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "embedkit_pipeline_chunk_duration_seconds",
			Help:    "Duration of embedding one chunk in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "embedkit_pipeline_cache_hits_total",
			Help: "Total number of embedding cache hits",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "embedkit_pipeline_cache_misses_total",
			Help: "Total number of embedding cache misses",
		}),
		LastRunDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "embedkit_pipeline_last_run_duration_seconds",
			Help: "Wall time of the most recent run in seconds",
		}),
		LastRunTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "embedkit_pipeline_last_run_timestamp_seconds",
			Help: "Unix time the most recent run finished",
		}),
	}
}

func (m *Metrics) observeRun(r Report, end time.Time) {
	m.CacheHits.Add(float64(r.CacheHits))
	m.CacheMisses.Add(float64(r.CacheMisses))
	m.LastRunDuration.Set(r.Duration.Seconds())
	m.LastRunTime.Set(float64(end.Unix()))
}

// WriteTextfile writes every metric to path in the Prometheus text format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
