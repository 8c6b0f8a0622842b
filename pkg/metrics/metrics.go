package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// outcome label values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusTimeout = "timeout"
	StatusDropped = "dropped"
)

var (
	// time from first acquisition attempt to success or giving up
	// includes retry sleeps, so p99 near MaxRetry*RetryInterval means contention
	LockAcquireDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomkey_lock_acquire_duration_seconds",
			Help:    "time taken to acquire a lock, including retries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	// labels: status (success/timeout/failure)
	LockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomkey_lock_acquire_total",
			Help: "total number of lock acquisitions by outcome",
		},
		[]string{"status"},
	)

	// single set-if-absent attempts, including the ones that lost the race
	LockAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomkey_lock_attempts_total",
			Help: "total number of set-if-absent lock attempts",
		},
	)

	// labels: released (true/false)
	// false means the record had expired or was taken over by another token
	LockReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomkey_lock_release_total",
			Help: "total number of lock releases",
		},
		[]string{"released"},
	)

	// labels: path (cache_hit/record_hit/created)
	ResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomkey_resolve_total",
			Help: "total number of successful resolutions by path",
		},
		[]string{"path"},
	)

	ResolveErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomkey_resolve_errors_total",
			Help: "total number of failed resolutions",
		},
	)

	// labels: mode (partial/all)
	SyncFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomkey_sync_flush_total",
			Help: "total number of pipelined batch flushes",
		},
		[]string{"mode"},
	)

	// labels: mode (partial/all)
	SyncedEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomkey_synced_entries_total",
			Help: "total number of cache entries written by the synchronizer",
		},
		[]string{"mode"},
	)

	// labels: status (success/failure/dropped)
	NotifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomkey_notify_total",
			Help: "total number of notification dispatches by outcome",
		},
		[]string{"status"},
	)

	NotifyQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomkey_notify_queue_depth",
			Help: "notifications waiting for a worker",
		},
	)

	// 1 if this node is the raft leader of the replicated registry
	RaftIsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomkey_raft_is_leader",
			Help: "whether this node is the raft leader (1 = leader, 0 = follower)",
		},
	)

	// documents held by the local registry replica
	RoomsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomkey_rooms",
			Help: "number of room documents in the local registry",
		},
	)

	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomkey_up",
			Help: "whether the service is up (always 1 when running)",
		},
	)
)

func init() {
	Up.Set(1)
}
