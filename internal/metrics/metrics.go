package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nyxsync_queue_enqueued_total",
			Help: "Mutations written to the sync queue by table and operation",
		},
		[]string{"table", "operation"},
	)

	QueueCoalesced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nyxsync_queue_coalesced_total",
			Help: "Mutations folded into an already active queue entry",
		},
		[]string{"table"},
	)

	ReplayTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nyxsync_replay_total",
			Help: "Queue replays against the remote store by outcome",
		},
		[]string{"table", "outcome"}, // synced|retry|error
	)

	ReplayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nyxsync_replay_duration_seconds",
			Help:    "Latency of a single remote replay",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nyxsync_queue_entries",
			Help: "Queue entries by status, sampled after each drain",
		},
		[]string{"status"},
	)

	ReconcileReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nyxsync_reconcile_reads_total",
			Help: "Reconciled reads by mode",
		},
		[]string{"table", "mode"}, // merged|degraded|local|remote
	)

	SchemaEnsureFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nyxsync_schema_ensure_failures_total",
			Help: "Failed ensureTable calls by store",
		},
		[]string{"store"},
	)

	LiveReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nyxsync_live_reconnect_attempts_total",
			Help: "Live channel dial attempts that failed",
		},
	)

	LiveConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nyxsync_live_connected",
			Help: "1 while the live channel is connected",
		},
	)

	LiveFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nyxsync_live_frames_total",
			Help: "Frames received on the live channel by type",
		},
		[]string{"type"},
	)

	RelayedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nyxsync_relay_events_total",
			Help: "Change events consumed from Kafka by result",
		},
		[]string{"result"}, // broadcast|invalid
	)
)

var registerOnce sync.Once

// MustRegister registers every collector once; repeated calls are no-ops.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			QueueEnqueued,
			QueueCoalesced,
			ReplayTotal,
			ReplayDuration,
			QueueDepth,
			ReconcileReads,
			SchemaEnsureFailures,
			LiveReconnects,
			LiveConnected,
			LiveFrames,
			RelayedEvents,
		)
	})
}
