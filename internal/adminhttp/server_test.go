package adminhttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/kms-token-provider/internal/metrics"
)

type fakeChecker struct {
	err error
}

func (f fakeChecker) HealthCheck(ctx context.Context) error {
	return f.err
}

func newTestServer(t *testing.T, checker Checker) *httptest.Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	s := New("127.0.0.1:0", m, checker, logger)
	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestServer_Health_AlwaysOK(t *testing.T) {
	srv := newTestServer(t, fakeChecker{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Ready_ReflectsCheckerError(t *testing.T) {
	srv := newTestServer(t, fakeChecker{err: context.DeadlineExceeded})
	resp, err := http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Ready_OKWhenHealthy(t *testing.T) {
	srv := newTestServer(t, fakeChecker{})
	resp, err := http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Metrics_ServesPrometheusFormat(t *testing.T) {
	srv := newTestServer(t, fakeChecker{})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
