package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetricsWithRegistry(reg), reg
}

func TestNewMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)
	require.NotNil(t, m.operationsTotal)
	require.NotNil(t, m.operationDuration)
	require.NotNil(t, m.kmsCallsTotal)
	require.NotNil(t, m.kmsCallDuration)
	require.NotNil(t, m.objectsTotal)
	require.NotNil(t, m.sessionsTotal)
}

func TestMetrics_RecordOperation(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordOperation("Sign", "CKM_SHA256_RSA_PKCS_PSS", nil, 5*time.Millisecond)
	m.RecordOperation("Sign", "CKM_SHA256_RSA_PKCS_PSS", fmt.Errorf("device error"), time.Millisecond)
}

func TestMetrics_RecordKMSCall(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordKMSCall("AsymmetricSign", nil, 10*time.Millisecond)
	m.RecordKMSCall("AsymmetricSign", fmt.Errorf("unavailable"), time.Millisecond)
}

func TestMetrics_SetObjectsAndSessionsTotal(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.SetObjectsTotal("slot-0", 4)
	m.SetSessionsTotal("slot-0", 2)
}

func TestMetrics_Handler(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordOperation("Sign", "CKM_ECDSA", nil, time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.String())
}
