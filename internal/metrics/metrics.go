// Package metrics collects Prometheus counters/gauges/histograms for the
// catalog, ingestion, analysis, sync, and discovery subsystems. Grounded
// on tomtom215-cartographus's internal/wal/metrics.go promauto style,
// generalized away from a package-level var block into a struct each
// component is handed explicitly, per spec.md §9's "no ambient globals"
// design note: tests can build an independent Metrics against its own
// registry instead of colliding on the global default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector this node exposes on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	IngestFilesTotal     prometheus.Counter
	IngestFailuresTotal  prometheus.Counter
	IngestDurationSecs   prometheus.Histogram
	AnalysisFilesTotal   prometheus.Counter
	AnalysisFailureTotal prometheus.Counter
	AnalysisDurationSecs prometheus.Histogram
	VectorIndexSize      prometheus.Gauge
	SyncRowsApplied      *prometheus.CounterVec
	SyncConflictsTotal   *prometheus.CounterVec
	SyncRoundsTotal      *prometheus.CounterVec
	DiscoveredPeers      prometheus.Gauge
	TrustedPeers         *prometheus.GaugeVec
}

// New builds a Metrics registered against a fresh registry (never the
// global prometheus.DefaultRegisterer), so multiple nodes in a test
// process never collide on collector names.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		IngestFilesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rune_ingest_files_total",
			Help: "Total number of files processed by the ingestion pipeline.",
		}),
		IngestFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rune_ingest_failures_total",
			Help: "Total number of per-file ingestion failures recorded to the catalog log.",
		}),
		IngestDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rune_ingest_run_duration_seconds",
			Help:    "Duration of a full ingestion pass.",
			Buckets: prometheus.DefBuckets,
		}),
		AnalysisFilesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rune_analysis_files_total",
			Help: "Total number of files processed by the analysis pipeline.",
		}),
		AnalysisFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rune_analysis_failures_total",
			Help: "Total number of per-file analysis failures.",
		}),
		AnalysisDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rune_analysis_run_duration_seconds",
			Help:    "Duration of a full analysis batch.",
			Buckets: prometheus.DefBuckets,
		}),
		VectorIndexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rune_vector_index_items",
			Help: "Number of items currently held in the vector index.",
		}),
		SyncRowsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rune_sync_rows_applied_total",
			Help: "Rows inserted or updated by the sync scheduler, by table and op.",
		}, []string{"table", "op"}),
		SyncConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rune_sync_conflicts_total",
			Help: "Row-level conflicts resolved by the sync scheduler, by table.",
		}, []string{"table"}),
		SyncRoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rune_sync_rounds_total",
			Help: "Sync table exchanges completed, by table and outcome.",
		}, []string{"table", "outcome"}),
		DiscoveredPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rune_discovery_peers",
			Help: "Number of peers currently tracked by the discovery listener.",
		}),
		TrustedPeers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rune_trust_peers",
			Help: "Number of trust-store entries by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.IngestFilesTotal, m.IngestFailuresTotal, m.IngestDurationSecs,
		m.AnalysisFilesTotal, m.AnalysisFailureTotal, m.AnalysisDurationSecs,
		m.VectorIndexSize, m.SyncRowsApplied, m.SyncConflictsTotal, m.SyncRoundsTotal,
		m.DiscoveredPeers, m.TrustedPeers,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this Metrics' registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
