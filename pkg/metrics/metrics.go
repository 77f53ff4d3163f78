package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idxp_cycles_total",
			Help: "Number of maintenance cycles run",
		},
		[]string{"dry_run"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idxp_cycle_duration_seconds",
			Help:    "Wall time of a full maintenance cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
	TargetsScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "idxp_targets_scanned_total",
			Help: "Targets successfully scanned",
		},
	)
	TargetsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idxp_targets_skipped_total",
			Help: "Targets skipped during a cycle",
		},
		[]string{"reason"},
	)
	IndexesObserved = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "idxp_indexes_observed",
			Help: "Indexes observed on the last scan per target",
		},
		[]string{"target"},
	)
	BloatRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "idxp_bloat_ratio",
			Help: "Current bloat ratio per index",
		},
		[]string{"target", "schema", "index"},
	)
	RebuildsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idxp_rebuilds_started_total",
			Help: "Online rebuilds started",
		},
		[]string{"target"},
	)
	RebuildsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idxp_rebuilds_failed_total",
			Help: "Online rebuilds that failed",
		},
		[]string{"target"},
	)
	RebuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idxp_rebuild_duration_seconds",
			Help:    "Duration of successful online rebuilds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		},
		[]string{"target"},
	)
	ReclaimedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idxp_reclaimed_bytes_total",
			Help: "Bytes reclaimed by successful rebuilds",
		},
		[]string{"target"},
	)
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idxp_api_requests_total",
			Help: "Number of API requests",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		CycleDuration,
		TargetsScanned,
		TargetsSkipped,
		IndexesObserved,
		BloatRatio,
		RebuildsStarted,
		RebuildsFailed,
		RebuildDuration,
		ReclaimedBytes,
		APIRequests,
	)
}
