// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LockOperations tracks lock operations by operation and result.
	LockOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_lock_operations_total",
			Help: "Total lock operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	// LockAcquireDuration tracks time spent polling for a lock.
	LockAcquireDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobsync_lock_acquire_duration_seconds",
			Help:    "Time spent acquiring a lock in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"result"},
	)

	// ScriptReloads tracks lock scripts reloaded after a NOSCRIPT reply.
	ScriptReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_lock_script_reloads_total",
			Help: "Total lock scripts reloaded after the store lost them",
		},
		[]string{"script"},
	)

	// LeaderStatus reports whether this instance currently leads a role.
	LeaderStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobsync_leader",
			Help: "1 if this instance is the leader for the role",
		},
		[]string{"role"},
	)

	// MaintainerTicks tracks lock maintainer ticks by result.
	MaintainerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_maintainer_ticks_total",
			Help: "Total lock maintainer ticks by result",
		},
		[]string{"result"},
	)

	// MaintainerRefreshes tracks lock extensions issued by the maintainer.
	MaintainerRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_maintainer_refreshes_total",
			Help: "Total job lock refreshes by result",
		},
		[]string{"result"},
	)

	// JobRuns tracks job runs by class and status.
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobsync_job_runs_total",
			Help: "Total job runs by class and status",
		},
		[]string{"class", "status"},
	)

	// JobDuration tracks job run duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobsync_job_duration_seconds",
			Help:    "Job run duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"class"},
	)

	// HTTPRequestsTotal tracks total HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RegisterMetricsEndpoint registers the /metrics endpoint on a Gin router.
func RegisterMetricsEndpoint(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// RegisterMetricsEndpointWithPath registers the metrics endpoint at a custom path.
func RegisterMetricsEndpointWithPath(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// MetricsHandler returns the Prometheus HTTP handler.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordLockOperation records the outcome of a lock operation.
func RecordLockOperation(operation, result string) {
	LockOperations.WithLabelValues(operation, result).Inc()
}

// RecordLockAcquireDuration records how long an acquisition took.
func RecordLockAcquireDuration(result string, seconds float64) {
	LockAcquireDuration.WithLabelValues(result).Observe(seconds)
}

// RecordScriptReload records a script reloaded after NOSCRIPT.
func RecordScriptReload(script string) {
	ScriptReloads.WithLabelValues(script).Inc()
}

// SetLeader sets the leader gauge for role.
func SetLeader(role string, leader bool) {
	v := 0.0
	if leader {
		v = 1
	}
	LeaderStatus.WithLabelValues(role).Set(v)
}

// RecordMaintainerTick records a maintainer tick result.
func RecordMaintainerTick(result string) {
	MaintainerTicks.WithLabelValues(result).Inc()
}

// RecordMaintainerRefresh records the result of one job lock refresh.
func RecordMaintainerRefresh(result string) {
	MaintainerRefreshes.WithLabelValues(result).Inc()
}

// RecordJobRun records a job run.
func RecordJobRun(class, status string) {
	JobRuns.WithLabelValues(class, status).Inc()
}

// RecordJobDuration records a job run duration.
func RecordJobDuration(class string, seconds float64) {
	JobDuration.WithLabelValues(class).Observe(seconds)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(method, path string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}
