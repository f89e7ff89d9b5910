package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest holds the ingestion pipeline metrics.
type Ingest struct {
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	rowsLoaded    *prometheus.CounterVec
	fetchRetries  prometheus.Counter
	anomaliesSeen *prometheus.CounterVec
}

// NewIngest registers the ingestion metrics on the given registerer.
func NewIngest(reg prometheus.Registerer) *Ingest {
	factory := promauto.With(reg)
	return &Ingest{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offsetsdb_ingest_runs_total",
			Help: "Ingestion runs by environment and outcome.",
		}, []string{"environment", "outcome"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "offsetsdb_ingest_run_duration_seconds",
			Help:    "Wall-clock duration of ingestion runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"environment"}),
		rowsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offsetsdb_ingest_rows_loaded_total",
			Help: "Rows loaded into the live table set per entity.",
		}, []string{"entity"}),
		fetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "offsetsdb_ingest_fetch_retries_total",
			Help: "Transient fetch failures that were retried.",
		}),
		anomaliesSeen: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offsetsdb_ingest_anomalies_total",
			Help: "Post-commit row-count anomalies by entity.",
		}, []string{"entity"}),
	}
}

func (m *Ingest) IncRun(environment, outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(environment, outcome).Inc()
}

func (m *Ingest) ObserveRunDuration(environment string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(environment).Observe(d.Seconds())
}

func (m *Ingest) AddRowsLoaded(entity string, n int64) {
	if m == nil {
		return
	}
	m.rowsLoaded.WithLabelValues(entity).Add(float64(n))
}

func (m *Ingest) IncFetchRetry() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

func (m *Ingest) IncAnomaly(entity string) {
	if m == nil {
		return
	}
	m.anomaliesSeen.WithLabelValues(entity).Inc()
}
