package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InstancesRunning tracks the number of live challenge instances
	InstancesRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "burrow_instances_running",
		Help: "Number of challenge instances currently running",
	})

	// UsersActive tracks the number of distinct users holding a seat
	UsersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "burrow_users_active",
		Help: "Number of distinct users currently assigned to an instance",
	})

	// ChallengesDeployable tracks the catalog size
	ChallengesDeployable = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "burrow_challenges_deployable",
		Help: "Number of challenges available for deployment",
	})

	// ChallengesBroken tracks challenges excluded by build failures
	ChallengesBroken = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "burrow_challenges_broken",
		Help: "Number of challenges excluded because their image failed to build",
	})

	// PortsAllocated tracks claimed external ports
	PortsAllocated = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "burrow_ports_allocated",
		Help: "Number of external ports currently claimed by instances",
	})

	// PrewarmQueueDepth tracks challenges waiting for prestart
	PrewarmQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "burrow_prewarm_queue_depth",
		Help: "Number of challenges queued for prestart",
	})

	// InstancesLaunchedTotal counts every instance launch
	InstancesLaunchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burrow_instances_launched_total",
		Help: "Total number of instances launched",
	})

	// InstancesStoppedTotal counts every instance teardown
	InstancesStoppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burrow_instances_stopped_total",
		Help: "Total number of instances stopped",
	})

	// UserResetsTotal counts reset operations
	UserResetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burrow_user_resets_total",
		Help: "Total number of user resets",
	})

	// PortAllocationRetriesTotal counts port draws that hit a used port
	PortAllocationRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burrow_port_allocation_retries_total",
		Help: "Total number of random port draws that collided with a used port",
	})

	// CleanupCyclesTotal counts cleanup passes
	CleanupCyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burrow_cleanup_cycles_total",
		Help: "Total number of cleanup passes",
	})

	// CleanupDuration tracks how long cleanup passes take
	CleanupDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "burrow_cleanup_duration_seconds",
		Help:    "Duration of cleanup passes in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PrestartCyclesTotal counts prestart passes
	PrestartCyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "burrow_prestart_cycles_total",
		Help: "Total number of prestart passes",
	})

	// PrestartDuration tracks how long prestart passes take
	PrestartDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "burrow_prestart_duration_seconds",
		Help:    "Duration of prestart passes in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestsTotal counts API requests by method, route, and status
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "burrow_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks API latency by method and route
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "burrow_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(
		InstancesRunning,
		UsersActive,
		ChallengesDeployable,
		ChallengesBroken,
		PortsAllocated,
		PrewarmQueueDepth,
		InstancesLaunchedTotal,
		InstancesStoppedTotal,
		UserResetsTotal,
		PortAllocationRetriesTotal,
		CleanupCyclesTotal,
		CleanupDuration,
		PrestartCyclesTotal,
		PrestartDuration,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the HTTP handler for the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
