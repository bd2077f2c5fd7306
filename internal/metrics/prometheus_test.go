package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	RegisterMetricsEndpoint(router)
	RecordLockOperation("acquire", "acquired")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
	assert.Contains(t, rec.Body.String(), "jobsync_lock_operations_total")
}

func TestRegisterMetricsEndpointWithPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	RegisterMetricsEndpointWithPath(router, "/custom/metrics")

	req := httptest.NewRequest("GET", "/custom/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsHandler(t *testing.T) {
	handler := MetricsHandler()

	require.NotNil(t, handler)
}

func TestRecordLockOperation(t *testing.T) {
	before := testutil.ToFloat64(LockOperations.WithLabelValues("release", "not_owner"))

	RecordLockOperation("release", "not_owner")
	RecordLockOperation("release", "not_owner")

	after := testutil.ToFloat64(LockOperations.WithLabelValues("release", "not_owner"))
	assert.Equal(t, before+2, after)
}

func TestSetLeader(t *testing.T) {
	SetLeader("scheduler", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(LeaderStatus.WithLabelValues("scheduler")))

	SetLeader("scheduler", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(LeaderStatus.WithLabelValues("scheduler")))
}

func TestRecordMaintainerMetrics(t *testing.T) {
	before := testutil.ToFloat64(MaintainerRefreshes.WithLabelValues("refreshed"))

	RecordMaintainerTick("scanned")
	RecordMaintainerRefresh("refreshed")

	assert.Equal(t, before+1, testutil.ToFloat64(MaintainerRefreshes.WithLabelValues("refreshed")))
}

func TestRecordDurations(t *testing.T) {
	// This should not panic
	RecordLockAcquireDuration("acquired", 0.05)
	RecordJobDuration("ReportWorker", 12.5)
	RecordHTTPRequestDuration("GET", "/api/v1/leader", 0.01)
	RecordJobRun("ReportWorker", "success")
	RecordHTTPRequest("GET", "/api/v1/leader", "200")
	RecordScriptReload("acquire")
}

func TestMetricsAreRegistered(t *testing.T) {
	metrics := []prometheus.Collector{
		LockOperations,
		LockAcquireDuration,
		ScriptReloads,
		LeaderStatus,
		MaintainerTicks,
		MaintainerRefreshes,
		JobRuns,
		JobDuration,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	}

	for _, metric := range metrics {
		assert.NotNil(t, metric)
	}
}
