package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HeartbeatsTotal counts ingested heartbeats by outcome.
	HeartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_heartbeats_total",
		Help: "Worker heartbeats received, by result",
	}, []string{"result"}) // accepted, rate_limited, not_owner, invalid, error

	// RegisteredApps tracks the number of application holders on this node.
	RegisteredApps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_registered_apps",
		Help: "Applications with a cluster status holder on this node",
	})

	// AliveWorkers tracks workers inside the liveness window per application.
	AliveWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_alive_workers",
		Help: "Workers whose last heartbeat is inside the timeout window",
	}, []string{"app_id"})

	// DeadWorkers tracks workers that missed the liveness window but are still listed.
	DeadWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_dead_workers",
		Help: "Workers past the timeout window that have not been purged",
	}, []string{"app_id"})

	// PurgedWorkers counts entries removed by the retention sweep.
	PurgedWorkers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_purged_workers_total",
		Help: "Worker entries removed after exceeding the retention window",
	})

	// QueryDuration tracks facade operation latency.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_query_duration_seconds",
		Help:    "Cluster query latency by operation and route",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"op", "route"}) // route: local, forwarded

	// RedirectOutcomes counts queries by terminal redirection state.
	RedirectOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_redirect_outcomes_total",
		Help: "Cluster queries by route and terminal state",
	}, []string{"op", "route", "state", "reason"})

	// FilterExclusions counts workers removed from candidate lists per filter.
	FilterExclusions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_filter_exclusions_total",
		Help: "Workers excluded by each eligibility filter",
	}, []string{"filter"})

	// FilterFaults counts filter predicates that failed.
	FilterFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_filter_faults_total",
		Help: "Filter evaluations that returned an error",
	}, []string{"filter"})

	// OwnershipTransitions counts application ownership changes on this node.
	OwnershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_ownership_transitions_total",
		Help: "Application ownership acquisitions and losses",
	}, []string{"event"}) // acquired, lost, released

	// OwnedApps tracks applications this node is authoritative for.
	OwnedApps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_owned_apps",
		Help: "Applications this node currently owns",
	})

	// StoreLatency tracks ownership store roundtrips.
	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_store_roundtrip_latency_seconds",
		Help:    "Ownership store operation latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	}, []string{"backend", "op"})

	// APIRateLimited tracks API requests rejected by rate limiters.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_api_rate_limited_total",
		Help: "API requests rejected by rate limiter (storm protection)",
	}, []string{"endpoint"})

	// BreakerState tracks the per-node redirect circuit state.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_redirect_breaker_state",
		Help: "Redirect circuit state per owner node (0=closed, 1=half_open, 2=open)",
	}, []string{"node"})

	// StreamClients tracks connected dashboard websocket clients.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_stream_clients",
		Help: "Connected dashboard websocket clients",
	})
)
