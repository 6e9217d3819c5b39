package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/azula/internal/logging"
	"github.com/anstrom/azula/internal/metrics"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
	metricsUpdateInterval    = 5 * time.Second
)

// metricsServer exposes the Prometheus metrics of a running scan.
type metricsServer struct {
	listener   net.Listener
	httpServer *http.Server
	router     *mux.Router
	metrics    *metrics.PrometheusMetrics
	logger     *logging.Logger
}

// newMetricsServer binds addr and prepares the routes. It does not serve
// until start is called.
func newMetricsServer(addr string, pm *metrics.PrometheusMetrics, logger *logging.Logger) (*metricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &metricsServer{
		listener: listener,
		router:   mux.NewRouter(),
		metrics:  pm,
		logger:   logger.WithComponent("metrics"),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
	return s, nil
}

func (s *metricsServer) setupRoutes() {
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
}

func (s *metricsServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"uptime": s.metrics.GetUptime().String(),
	})
}

// Addr returns the bound address.
func (s *metricsServer) Addr() string {
	return s.listener.Addr().String()
}

// start serves in the background and refreshes the system metrics until
// ctx is done.
func (s *metricsServer) start(ctx context.Context) {
	s.logger.Info("Serving metrics", "address", s.Addr())

	go s.metrics.StartPeriodicUpdates(ctx, metricsUpdateInterval)
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// stop shuts the server down gracefully.
func (s *metricsServer) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}
