// Package metrics provides Prometheus instrumentation for the broker.
// All metrics are registered at init and served by the API's /metrics
// endpoint through Handler().
//
// # Metric Types
//
// Point-in-time gauges are sampled by the Collector on a fixed
// interval (instances running, active users, claimed ports, catalog
// sizes, prewarm queue depth). Counters are incremented where the
// action happens: the scheduler bumps launch, stop, and reset totals,
// the API middleware counts requests and observes latency.
//
//	burrow_instances_running              gauge
//	burrow_users_active                   gauge
//	burrow_challenges_deployable          gauge
//	burrow_challenges_broken              gauge
//	burrow_ports_allocated                gauge
//	burrow_prewarm_queue_depth            gauge
//	burrow_instances_launched_total       counter
//	burrow_instances_stopped_total        counter
//	burrow_user_resets_total              counter
//	burrow_port_allocation_retries_total  counter
//	burrow_cleanup_cycles_total           counter
//	burrow_cleanup_duration_seconds       histogram
//	burrow_prestart_cycles_total          counter
//	burrow_prestart_duration_seconds      histogram
//	burrow_http_requests_total            counter (method, route, status)
//	burrow_http_request_duration_seconds  histogram (method, route)
//
// # Timing Helper
//
// Timer wraps the measure-then-observe pattern used by the periodic
// passes:
//
//	timer := metrics.NewTimer()
//	defer func() {
//		timer.ObserveDuration(metrics.CleanupDuration)
//		metrics.CleanupCyclesTotal.Inc()
//	}()
package metrics
