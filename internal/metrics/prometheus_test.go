package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_InitializationAndUpdate(t *testing.T) {
	pm := NewPrometheusMetrics()
	require.NotNil(t, pm)
	require.NotNil(t, pm.GetRegistry())

	pm.UpdateSystemMetrics()
	before := pm.GetUptime()
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, pm.GetUptime(), before)
	assert.False(t, pm.GetLastUpdate().IsZero())
}

func TestPrometheusMetrics_HandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.UpdateSystemMetrics()
	pm.RecordProbe("tcp", StatusOpen, 5*time.Millisecond)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	pm.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, "azula_system_uptime_seconds"))
	assert.True(t, strings.Contains(body, `azula_probe_total{protocol="tcp",status="open"} 1`))
}

func TestPrometheusMetrics_ProbeMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RecordProbe("tcp", StatusOpen, 10*time.Millisecond)
	pm.RecordProbe("tcp", StatusClosed, 20*time.Millisecond)
	pm.RecordProbe("tcp", StatusClosed, 30*time.Millisecond)
	pm.RecordProbe("udp", StatusError, 40*time.Millisecond)

	assert.Equal(t, 3, testutil.CollectAndCount(pm.probesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.probesTotal.WithLabelValues("tcp", StatusClosed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.openPorts.WithLabelValues("tcp")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.probeDuration))

	pm.SetInFlight(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(pm.inFlight))
}

func TestPrometheusMetrics_ScanMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RecordScan("tcp", "success", 2*time.Second)
	pm.RecordScan("tcp", "aborted", time.Second)
	pm.SetAddresses(256)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.scansTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.scanDuration))
	assert.Equal(t, 256.0, testutil.ToFloat64(pm.addresses))
}

func TestPrometheusMetrics_StartPeriodicUpdates(t *testing.T) {
	pm := NewPrometheusMetrics()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		pm.StartPeriodicUpdates(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic updates did not stop after cancel")
	}
	assert.Greater(t, testutil.ToFloat64(pm.goroutines), 0.0)
}
