// Package adminhttp is the optional HTTP surface a host process may mount
// alongside the token provider: health/ready/live checks and a Prometheus
// scrape endpoint. It sits outside the core's token-API boundary entirely —
// nothing in internal/provider imports this package.
package adminhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/kms-token-provider/internal/metrics"
	"github.com/kenneth/kms-token-provider/internal/middleware"
)

// Checker reports whether the provider is ready to serve requests.
// *provider.Provider satisfies this with its HealthCheck method.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the admin HTTP listener.
type Server struct {
	httpServer *http.Server
	logger     *logrus.Logger
}

// New builds a Server bound to addr, exposing /health, /ready, /live, and
// /metrics, with logging and panic-recovery middleware applied the way the
// teacher wraps its own S3 API routes.
func New(addr string, m *metrics.Metrics, checker Checker, logger *logrus.Logger) *Server {
	r := mux.NewRouter()
	r.HandleFunc("/health", metrics.HealthHandler()).Methods("GET")
	r.HandleFunc("/ready", metrics.ReadinessHandler(checker.HealthCheck)).Methods("GET")
	r.HandleFunc("/live", metrics.LivenessHandler()).Methods("GET")
	r.Handle("/metrics", m.Handler()).Methods("GET")

	var handler http.Handler = r
	handler = middleware.LoggingMiddleware(logger)(handler)
	handler = middleware.RecoveryMiddleware(logger)(handler)

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: handler},
		logger:     logger,
	}
}

// Start serves until the process is shut down; run it in its own goroutine.
// ErrServerClosed from a graceful Stop is swallowed.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("admin HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down within a bounded timeout.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
