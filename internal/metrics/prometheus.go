package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sync engine
type Metrics struct {
	// Suite sync metrics
	SyncsTotal    prometheus.Counter
	SyncFailures  prometheus.Counter
	SyncDuration  prometheus.Histogram
	SuiteDeletionsDetected prometheus.Counter

	// Conflict resolution metrics
	ConflictsDetectedTotal prometheus.Counter
	ConcertMergesTotal     prometheus.Counter
	SeatMergesLocalWins    prometheus.Counter
	SeatMergesRemoteWins   prometheus.Counter

	// Token metrics
	TokensIssuedTotal    prometheus.Counter
	TokenRedemptionsTotal prometheus.Counter
	TokenRejectionsTotal *prometheus.CounterVec

	// Offline queue metrics
	QueueDepth        prometheus.Gauge
	QueueEnqueuedTotal prometheus.Counter
	QueueRetriesTotal  prometheus.Counter
	QueueDroppedTotal  prometheus.Counter
	QueueDrainsTotal   prometheus.Counter

	// Remote store metrics
	RemoteOpsTotal    *prometheus.CounterVec
	RemoteOpDuration  prometheus.Histogram
	RemoteOpFailures  *prometheus.CounterVec

	// Worker pool metrics
	PushTasksCompleted prometheus.Gauge
	PushTasksFailed    prometheus.Gauge
	PushTasksRejected  prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates all metrics against a caller-supplied
// registry. Tests use a fresh registry per instance to avoid duplicate
// registration.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_syncs_total",
			Help: "Total number of suite sync operations",
		}),
		SyncFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_sync_failures_total",
			Help: "Total number of failed suite sync operations",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "suitesync_sync_duration_seconds",
			Help:    "Duration of suite sync operations",
			Buckets: prometheus.DefBuckets,
		}),
		SuiteDeletionsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_suite_deletions_detected_total",
			Help: "Times a suite was found deleted by its owner during sync",
		}),
		ConflictsDetectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_conflicts_detected_total",
			Help: "Concurrent-edit conflicts detected during reconciliation",
		}),
		ConcertMergesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_concert_merges_total",
			Help: "Concert-level merges performed",
		}),
		SeatMergesLocalWins: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_seat_merges_local_wins_total",
			Help: "Seat merges resolved in favor of the local seat",
		}),
		SeatMergesRemoteWins: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_seat_merges_remote_wins_total",
			Help: "Seat merges resolved in favor of the remote seat",
		}),
		TokensIssuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_tokens_issued_total",
			Help: "Invitation tokens issued",
		}),
		TokenRedemptionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_token_redemptions_total",
			Help: "Invitation tokens successfully redeemed",
		}),
		TokenRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "suitesync_token_rejections_total",
			Help: "Invitation token redemptions rejected, by reason",
		}, []string{"reason"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "suitesync_offline_queue_depth",
			Help: "Operations currently waiting in the offline queue",
		}),
		QueueEnqueuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_offline_queue_enqueued_total",
			Help: "Operations enqueued to the offline queue",
		}),
		QueueRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_offline_queue_retries_total",
			Help: "Retry attempts made by the offline queue",
		}),
		QueueDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_offline_queue_dropped_total",
			Help: "Operations dropped after reaching the retry ceiling",
		}),
		QueueDrainsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "suitesync_offline_queue_drains_total",
			Help: "Drain passes executed by the offline queue",
		}),
		RemoteOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "suitesync_remote_ops_total",
			Help: "Remote record store operations, by operation",
		}, []string{"op"}),
		RemoteOpDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "suitesync_remote_op_duration_seconds",
			Help:    "Duration of remote record store operations",
			Buckets: prometheus.DefBuckets,
		}),
		RemoteOpFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "suitesync_remote_op_failures_total",
			Help: "Failed remote record store operations, by operation",
		}, []string{"op"}),
		PushTasksCompleted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "suitesync_push_tasks_completed",
			Help: "Async push tasks completed by the worker pool",
		}),
		PushTasksFailed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "suitesync_push_tasks_failed",
			Help: "Async push tasks that failed in the worker pool",
		}),
		PushTasksRejected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "suitesync_push_tasks_rejected",
			Help: "Async push tasks rejected because the pool was saturated",
		}),
	}
}
