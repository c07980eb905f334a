package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	records      prometheus.Counter
	recordErrors prometheus.Counter
	fieldErrors  *prometheus.CounterVec
	tables       prometheus.Counter
	failures     prometheus.Counter
	bytesRead    prometheus.Counter
	duration     prometheus.Histogram
}

// NewMetrics registers the ingestion metrics with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		records: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "aev_ingest_records_total",
			Help: "Records mapped into table rows.",
		}),
		recordErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "aev_ingest_record_errors_total",
			Help: "Malformed records skipped during ingestion.",
		}),
		fieldErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "aev_ingest_field_defaults_total",
			Help: "Fields that fell back to their default value, by field and reason.",
		}, []string{"field", "kind"}),
		tables: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "aev_ingest_tables_total",
			Help: "Tables built successfully.",
		}),
		failures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "aev_ingest_failures_total",
			Help: "Ingestions that failed before producing a table.",
		}),
		bytesRead: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "aev_ingest_bytes_total",
			Help: "Size of the containers ingested.",
		}),
		duration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "aev_ingest_duration_seconds",
			Help:    "Time spent ingesting one container.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}
