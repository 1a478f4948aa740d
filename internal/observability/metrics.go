package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics exported by the exchange core.
type Metrics struct {
	// --- Engine ---
	ActionsExecuted  *prometheus.CounterVec
	ActionsRejected  *prometheus.CounterVec
	ActionsCancelled *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	EventsEmitted    *prometheus.CounterVec
	EngineSequence   prometheus.Gauge

	// --- Latency ---
	IngestToApply   *prometheus.HistogramVec
	NATSPullLatency *prometheus.HistogramVec
	PersistBatchDur prometheus.Histogram

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ProjectionApplied   prometheus.Counter
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	NonceGaps             *prometheus.CounterVec

	// --- Market state ---
	MarketsRegistered    prometheus.Gauge
	PositionsOpen        prometheus.Gauge
	FundingRatePerSecond *prometheus.GaugeVec
	AdlEnabled           *prometheus.GaugeVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec

	// --- Streaming ---
	StreamClients  prometheus.Gauge
	StreamMessages prometheus.Counter
	StreamDrops    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		ActionsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmsol_engine_actions_executed_total",
			Help: "Actions executed successfully",
		}, []string{"kind"}),

		ActionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmsol_engine_actions_rejected_total",
			Help: "Actions rejected (dedup, nonce, validation)",
		}, []string{"kind", "reason"}),

		ActionsCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmsol_engine_actions_cancelled_total",
			Help: "Actions cancelled before or during execution",
		}, []string{"kind"}),

		ActionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gmsol_engine_action_duration_seconds",
			Help:    "Time to execute a single action",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmsol_engine_events_emitted_total",
			Help: "Events emitted into the log",
		}, []string{"event_type"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gmsol_engine_sequence",
			Help: "Next event sequence the engine will assign",
		}),

		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gmsol_ingest_to_apply_seconds",
			Help:    "Latency from NATS receipt to engine apply",
			Buckets: ingestBuckets,
		}, []string{"kind"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gmsol_nats_pull_latency_seconds",
			Help:    "JetStream fetch round-trip time",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gmsol_persist_batch_duration_seconds",
			Help:    "Time to write one persistence batch",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gmsol_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gmsol_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ProjectionApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gmsol_projection_applied_total",
			Help: "Outputs applied to the in-memory read model",
		}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmsol_projection_drops_total",
			Help: "Outputs dropped on the projection channel",
		}, []string{"event_type"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gmsol_publish_drops_total",
			Help: "Events dropped by the NATS publisher",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gmsol_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmsol_idempotency_duplicates_total",
			Help: "Duplicate refs detected",
		}, []string{"scope", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gmsol_dedup_lru_size",
			Help: "Entries in the dedup LRU",
		}),

		NonceGaps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmsol_nonce_gaps_total",
			Help: "Nonce gaps or out-of-order requests",
		}, []string{"reason"}),

		MarketsRegistered: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gmsol_markets_registered",
			Help: "Markets currently registered",
		}),

		PositionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gmsol_positions_open",
			Help: "Open positions across all markets",
		}),

		FundingRatePerSecond: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gmsol_funding_rate_per_second",
			Help: "Signed funding factor per second, scaled to float",
		}, []string{"market"}),

		AdlEnabled: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gmsol_adl_enabled",
			Help: "1 when auto-deleveraging is armed for a side",
		}, []string{"market", "side"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gmsol_persist_events_written_total",
			Help: "Envelopes written to the event log",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gmsol_persist_batch_size",
			Help:    "Envelopes per persistence batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmsol_persist_errors_total",
			Help: "Persistence failures by kind",
		}, []string{"kind"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gmsol_persist_last_sequence",
			Help: "Highest sequence durably written",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gmsol_snapshot_taken_total",
			Help: "State snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gmsol_snapshot_duration_seconds",
			Help:    "Time to serialize and store a snapshot",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gmsol_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gmsol_replay_events_total",
			Help: "Events replayed during recovery",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmsol_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gmsol_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: ingestBuckets,
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gmsol_query_errors_total",
			Help: "Query API errors",
		}, []string{"endpoint", "code"}),

		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gmsol_stream_clients",
			Help: "Connected websocket clients",
		}),

		StreamMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gmsol_stream_messages_total",
			Help: "Messages fanned out to websocket clients",
		}),

		StreamDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gmsol_stream_drops_total",
			Help: "Messages dropped on slow websocket clients",
		}),
	}
}
