package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Supervisor metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "procd_instances_total",
			Help: "Total number of process instances by status",
		},
		[]string{"status"},
	)

	ConfigsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "procd_configs_total",
			Help: "Total number of loaded process configs",
		},
	)

	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procd_restarts_total",
			Help: "Total number of instance restarts by config and reason",
		},
		[]string{"config", "reason"},
	)

	RestartBudgetExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procd_restart_budget_exhausted_total",
			Help: "Total number of times an instance's restart budget was exhausted",
		},
		[]string{"config"},
	)

	// Resource metrics (most recent sample, by config and instance)
	InstanceCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "procd_instance_cpu_percent",
			Help: "Most recent CPU usage percent for an instance, where 100 is one fully busy core",
		},
		[]string{"config", "instance"},
	)

	InstanceMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "procd_instance_memory_bytes",
			Help: "Most recent RSS memory in bytes for an instance",
		},
		[]string{"config", "instance"},
	)

	MemoryLimitKillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procd_memory_limit_kills_total",
			Help: "Total number of instances killed for exceeding their memory limit",
		},
		[]string{"config"},
	)

	// Log manager metrics
	LogLinesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procd_log_lines_written_total",
			Help: "Total number of log lines captured by stream",
		},
		[]string{"config", "stream"},
	)

	LogLinesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procd_log_lines_dropped_total",
			Help: "Total number of log lines dropped from a slow streaming subscriber",
		},
		[]string{"config"},
	)

	LogRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procd_log_rotations_total",
			Help: "Total number of log file rotations",
		},
		[]string{"config"},
	)

	// IPC server metrics
	IPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procd_ipc_requests_total",
			Help: "Total number of IPC requests by command and result",
		},
		[]string{"command", "result"},
	)

	IPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "procd_ipc_request_duration_seconds",
			Help:    "IPC request handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	IPCConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "procd_ipc_connections_total",
			Help: "Total number of accepted IPC client connections",
		},
	)

	// Operation latency metrics
	InstanceStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "procd_instance_start_duration_seconds",
			Help:    "Time taken to start an instance in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstanceStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "procd_instance_stop_duration_seconds",
			Help:    "Time taken to gracefully stop an instance in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MonitorSampleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "procd_monitor_sample_duration_seconds",
			Help:    "Time taken for one monitor sampling pass across all instances",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(ConfigsTotal)
	prometheus.MustRegister(RestartsTotal)
	prometheus.MustRegister(RestartBudgetExhaustedTotal)

	prometheus.MustRegister(InstanceCPUPercent)
	prometheus.MustRegister(InstanceMemoryBytes)
	prometheus.MustRegister(MemoryLimitKillsTotal)

	prometheus.MustRegister(LogLinesWrittenTotal)
	prometheus.MustRegister(LogLinesDroppedTotal)
	prometheus.MustRegister(LogRotationsTotal)

	prometheus.MustRegister(IPCRequestsTotal)
	prometheus.MustRegister(IPCRequestDuration)
	prometheus.MustRegister(IPCConnectionsTotal)

	prometheus.MustRegister(InstanceStartDuration)
	prometheus.MustRegister(InstanceStopDuration)
	prometheus.MustRegister(MonitorSampleDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
