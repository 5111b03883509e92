package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scheduler's Prometheus instrumentation. Register it
// with a registry once per process.
type Metrics struct {
	Submitted         *prometheus.CounterVec
	Completed         *prometheus.CounterVec
	LateCompletions   prometheus.Counter
	TimedOut          *prometheus.CounterVec
	Rejected          *prometheus.CounterVec
	DedupLeaders      prometheus.Counter
	DedupWaiters      prometheus.Counter
	QueueDepth        *prometheus.GaugeVec
	DispatchLatency   *prometheus.HistogramVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
}

// NewMetrics builds a fresh, unregistered Metrics set.
func NewMetrics() *Metrics {
	return &Metrics{
		Submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oxcrypt_scheduler_submitted_total",
			Help: "Requests submitted, by lane.",
		}, []string{"lane"}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oxcrypt_scheduler_completed_total",
			Help: "Requests completed before their deadline, by lane.",
		}, []string{"lane"}),
		LateCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oxcrypt_scheduler_late_completions_total",
			Help: "Work that finished after its deadline had already fired a timeout reply.",
		}),
		TimedOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oxcrypt_scheduler_timed_out_total",
			Help: "Requests whose deadline fired before dispatch or completion, by lane.",
		}, []string{"lane"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oxcrypt_scheduler_rejected_total",
			Help: "Requests rejected at submission (lane full, budget exceeded), by lane.",
		}, []string{"lane"}),
		DedupLeaders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oxcrypt_scheduler_dedup_leaders_total",
			Help: "Reads that actually executed rather than sharing another read's result.",
		}),
		DedupWaiters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oxcrypt_scheduler_dedup_waiters_total",
			Help: "Reads that shared an in-flight read's result instead of executing.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oxcrypt_scheduler_queue_depth",
			Help: "Current queue depth, by lane.",
		}, []string{"lane"}),
		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oxcrypt_scheduler_dispatch_latency_seconds",
			Help:    "Time from submission to dispatch, by lane.",
			Buckets: prometheus.DefBuckets,
		}, []string{"lane"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oxcrypt_scheduler_read_cache_hits_total",
			Help: "Reads served directly from the read cache without dispatch.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oxcrypt_scheduler_read_cache_misses_total",
			Help: "Reads that missed the read cache and went through dedup/dispatch.",
		}),
	}
}

// Collectors returns every metric for bulk registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Submitted, m.Completed, m.LateCompletions, m.TimedOut, m.Rejected,
		m.DedupLeaders, m.DedupWaiters, m.QueueDepth, m.DispatchLatency,
		m.CacheHits, m.CacheMisses,
	}
}

// LaneSnapshot is one lane's instantaneous queue state.
type LaneSnapshot struct {
	Lane            Lane
	QueueDepth      int
	OldestPendingAge time.Duration
}

// SchedulerSnapshot is a point-in-time view of the scheduler's internals,
// exposed for diagnostics and tests beyond what Prometheus counters alone
// would show (in particular, per-lane oldest-pending-age, which a counter
// can't represent).
type SchedulerSnapshot struct {
	Lanes            []LaneSnapshot
	GlobalDirtyBytes int64
	ReadCacheEntries int
	ReadCacheBytes   int64
	CacheHits        uint64
	CacheMisses      uint64
	DedupLeaders     uint64
	DedupWaiters     uint64
	LateCompletions  uint64
	FileOpsWaited    uint64
	FileOpsImmediate uint64
	FileOpsErrored   uint64
}
