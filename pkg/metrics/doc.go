/*
Package metrics provides Prometheus metrics collection and exposition for procd.

Metrics are registered at package init and exposed via an HTTP handler for
scraping; a Collector periodically copies live state from the supervisor into
the package's gauges.

# Metrics Catalog

Supervisor:

	procd_instances_total{status}          gauge
	procd_configs_total                    gauge
	procd_restarts_total{config,reason}    counter
	procd_restart_budget_exhausted_total{config}  counter

Resources:

	procd_instance_cpu_percent{config,instance}    gauge
	procd_instance_memory_bytes{config,instance}   gauge
	procd_memory_limit_kills_total{config}         counter

Logs:

	procd_log_lines_written_total{config,stream}   counter
	procd_log_lines_dropped_total{config}          counter
	procd_log_rotations_total{config}              counter

IPC:

	procd_ipc_requests_total{command,result}       counter
	procd_ipc_request_duration_seconds{command}    histogram
	procd_ipc_connections_total                    counter

# Usage

	import "github.com/nimbusdaemon/procd/pkg/metrics"

	metrics.RestartsTotal.WithLabelValues(cfg.ID, "crash").Inc()

	timer := metrics.NewTimer()
	startInstance()
	timer.ObserveDuration(metrics.InstanceStartDuration)

	http.Handle("/metrics", metrics.Handler())

# Integration Points

  - pkg/supervisor: restart counts, memory-limit kills, instance status, start/stop latency
  - pkg/monitor: CPU/memory gauges
  - pkg/logs: lines written/dropped, rotations
  - pkg/ipc: per-command request counts and latency
  - pkg/daemon: exposes Handler() and health.go's handlers over HTTP
*/
package metrics
