package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LeaderStatus reports whether this process currently holds a given
	// coordinator's advisory lock (1 = leader, 0 = follower).
	LeaderStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "codehub_leader_status",
		Help: "Current leader status per coordinator role (1 = leader, 0 = follower)",
	}, []string{"role"})

	// LeadershipTransitions counts leadership events, labeled by node id
	// and event.
	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codehub_leader_transitions_total",
		Help: "Total number of leadership transitions",
	}, []string{"node_id", "event"})

	// RuntimeMode reports whether the Runtime Port is considered degraded.
	RuntimeMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "codehub_runtime_mode",
		Help: "Runtime Port operating mode (1 = mode active)",
	}, []string{"mode"})

	// RedisLatency tracks Redis roundtrip latency for the coordination spine
	// (activity flush, wake stream, event stream).
	RedisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codehub_redis_roundtrip_latency_seconds",
		Help:    "Redis operation latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	})

	// CoordinatorTickDuration tracks one Tick() call per coordinator role
	// (observer, wc, scheduler).
	CoordinatorTickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codehub_coordinator_tick_duration_seconds",
		Help:    "Duration of one coordinator tick",
		Buckets: prometheus.DefBuckets,
	}, []string{"role"})

	// CoordinatorTickErrors counts failed ticks per coordinator role.
	CoordinatorTickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codehub_coordinator_tick_errors_total",
		Help: "Total number of coordinator ticks that returned an error",
	}, []string{"role"})

	// WorkspaceTransitions counts domain phase changes applied by a
	// coordinator, labeled by the phase entered.
	WorkspaceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codehub_workspace_transitions_total",
		Help: "Total number of workspace phase transitions applied",
	}, []string{"phase"})

	// SchedulerTTLExpirations counts RUNNING workspaces demoted to STANDBY
	// by the idle-TTL sweep.
	SchedulerTTLExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codehub_scheduler_ttl_expirations_total",
		Help: "Total number of workspaces demoted to standby by idle TTL",
	})

	// SchedulerArchiveGC counts STANDBY workspaces demoted to ARCHIVED by
	// the archive-TTL sweep.
	SchedulerArchiveGC = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codehub_scheduler_archive_gc_total",
		Help: "Total number of workspaces demoted to archived by archive TTL",
	})

	// ProxyRateLimited counts requests rejected by the per-IP limiter before
	// auth even runs.
	ProxyRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codehub_proxy_rate_limited_total",
		Help: "Proxy requests rejected by the per-IP rate limiter",
	})

	// ProxyUpstreamErrors counts relay failures by phase of failure (dial,
	// relay).
	ProxyUpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codehub_proxy_upstream_errors_total",
		Help: "Proxy relay failures talking to the upstream workspace container",
	}, []string{"stage"})

	// ProxyAutoWakes counts auto-wake requests the proxy issued, by the
	// phase the workspace was woken from.
	ProxyAutoWakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codehub_proxy_auto_wakes_total",
		Help: "Total number of auto-wake requests issued by the proxy",
	}, []string{"from_phase"})

	// RunningLimitRejections counts auto-wakes rejected by the per-user
	// running cap.
	RunningLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codehub_running_limit_rejections_total",
		Help: "Total number of auto-wake attempts rejected by the per-user running cap",
	})

	// WakeDedupClaims counts TryClaim outcomes (claimed vs already-pending).
	WakeDedupClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codehub_wake_dedup_claims_total",
		Help: "Outcome of wake-dedup claim attempts",
	}, []string{"result"})

	// ActivityFlushErrors counts failed activity-buffer flushes to Redis.
	ActivityFlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codehub_activity_flush_errors_total",
		Help: "Total number of activity buffer flush attempts that failed",
	})

	// SSEConnections tracks the number of open /events connections.
	SSEConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codehub_sse_connections",
		Help: "Current number of open /events SSE connections",
	})

	// SSEFramesDeduped counts notifications that resolved to an identical
	// frame as the last one sent on that connection and were dropped.
	SSEFramesDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codehub_sse_frames_deduped_total",
		Help: "Total number of SSE notifications suppressed as duplicates of the last frame",
	})

	// LoginLockouts counts login attempts rejected because the account is
	// in its post-failure cooldown window.
	LoginLockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codehub_login_lockouts_total",
		Help: "Total number of login attempts rejected due to consecutive-failure lockout",
	})

	// IncidentsRecorded counts incidents appended to the incident store,
	// labeled by category.
	IncidentsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codehub_incidents_recorded_total",
		Help: "Total number of incidents recorded",
	}, []string{"category"})
)
