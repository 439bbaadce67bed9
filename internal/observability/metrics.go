package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PredLedger.
type Metrics struct {
	// --- Ingest ---
	IngestReceived     *prometheus.CounterVec
	IngestRejected     *prometheus.CounterVec
	IngestStored       prometheus.Counter
	IngestDuplicates   *prometheus.CounterVec
	DedupLRUSize       prometheus.Gauge
	DedupLRUEvictions  prometheus.Counter
	DedupProbeDuration prometheus.Histogram
	NATSPullLatency    *prometheus.HistogramVec

	// --- Compute ---
	ComputeWallets      *prometheus.CounterVec
	ComputeDuration     prometheus.Histogram
	ComputeInflight     prometheus.Gauge
	ComputeEventsFolded prometheus.Counter
	ComputeTimeouts     prometheus.Counter
	ComputeClamped      prometheus.Counter
	ComputeUnmapped     prometheus.Counter
	ReconcileFailures   prometheus.Counter
	PageFetchDuration   prometheus.Histogram
	LastComputePass     prometheus.Gauge

	// --- Persistence ---
	ResultsWritten  prometheus.Counter
	PersistBatchDur prometheus.Histogram
	PersistErrors   *prometheus.CounterVec
	PersistRetry    prometheus.Counter

	// --- Channels & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    prometheus.Counter
	PublishDrops       prometheus.Counter

	// --- Outbound publish ---
	PublishedResults *prometheus.CounterVec

	// --- Cache ---
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics. Call once per
// process; promauto registers into the default registry.
func NewMetrics() *Metrics {
	probeBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	fetchBuckets := []float64{
		0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	computeBuckets := []float64{
		0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	}

	return &Metrics{
		// Ingest
		IngestReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pred_ingest_received_total",
			Help: "Raw activity messages received from NATS",
		}, []string{"type"}),

		IngestRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pred_ingest_rejected_total",
			Help: "Messages rejected at parse/validate",
		}, []string{"type", "reason"}),

		IngestStored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_ingest_stored_total",
			Help: "Activity rows written to the raw store",
		}),

		IngestDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pred_ingest_duplicates_total",
			Help: "Duplicates caught before insert (lru/postgres)",
		}, []string{"type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pred_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupProbeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pred_dedup_probe_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: probeBuckets,
		}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pred_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: probeBuckets,
		}, []string{"subject"}),

		// Compute
		ComputeWallets: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pred_compute_wallets_total",
			Help: "Wallet computations completed, by cohort tier",
		}, []string{"tier"}),

		ComputeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pred_compute_wallet_duration_seconds",
			Help:    "End-to-end time for one wallet computation",
			Buckets: computeBuckets,
		}),

		ComputeInflight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pred_compute_inflight",
			Help: "Wallet computations currently running",
		}),

		ComputeEventsFolded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_compute_events_folded_total",
			Help: "Normalized activities folded into wallet books",
		}),

		ComputeTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_compute_timeouts_total",
			Help: "Computations cut short by the time budget",
		}),

		ComputeClamped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_compute_clamped_positions_total",
			Help: "Positions clamped by the inventory guard",
		}),

		ComputeUnmapped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_compute_unmapped_tokens_total",
			Help: "Activity rows excluded for unmapped tokens",
		}),

		ReconcileFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_reconcile_failures_total",
			Help: "Invariant violations surfaced by reconciliation",
		}),

		PageFetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pred_page_fetch_duration_seconds",
			Help:    "Activity page fetch latency",
			Buckets: fetchBuckets,
		}),

		LastComputePass: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pred_last_compute_pass_timestamp_seconds",
			Help: "Unix time of the last completed scheduler pass",
		}),

		// Persistence
		ResultsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_results_written_total",
			Help: "Wallet results upserted to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pred_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pred_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_persist_retry_total",
			Help: "Persistence retries",
		}),

		// Channels & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pred_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pred_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pred_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_projection_drops_total",
			Help: "Results dropped due to full projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_publish_drops_total",
			Help: "Results dropped due to full publish channel",
		}),

		// Outbound publish
		PublishedResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pred_published_results_total",
			Help: "Results published to NATS, by cohort tier",
		}, []string{"tier"}),

		// Cache
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_cache_hits_total",
			Help: "Result cache hits",
		}),

		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pred_cache_misses_total",
			Help: "Result cache misses",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pred_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pred_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
