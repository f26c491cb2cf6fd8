// Package metrics exposes Prometheus metrics and bank health checks over HTTP.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimburion/objectbank/pkg/health"
	"github.com/nimburion/objectbank/pkg/observability/logger"
)

const (
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds configuration for the management server.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server serves the management endpoints:
//   - /health: liveness, always 200
//   - /ready: every registered check, 503 when the aggregate is unhealthy
//   - /ready/{check}: a single check, 404 when unknown
//   - /metrics: Prometheus exposition of gatherer
type Server struct {
	cfg      ServerConfig
	router   *mux.Router
	health   *health.Registry
	gatherer prometheus.Gatherer
	logger   logger.Logger
}

// NewServer creates a management server. A nil gatherer uses the default Prometheus registry,
// where the bank, lease and object store collectors live.
func NewServer(cfg ServerConfig, registry *health.Registry, gatherer prometheus.Gatherer, log logger.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if registry == nil {
		registry = health.NewRegistry()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		health:   registry,
		gatherer: gatherer,
		logger:   log,
	}
	s.registerEndpoints()
	return s
}

func (s *Server) registerEndpoints() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/ready/{check}", s.handleReadyCheck).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})).Methods(http.MethodGet)
}

// Handler returns the routed management handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("management server failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("starting management server", "addr", listener.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("management server failed: %w", err)
	case <-ctx.Done():
		return s.shutdown(srv)
	}
}

func (s *Server) shutdown(srv *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("management server shutdown failed: %w", err)
	}
	s.logger.Info("management server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	result := s.health.Check(r.Context())
	status := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleReadyCheck(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["check"]
	result, err := s.health.CheckOne(r.Context(), name)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write management response", "error", err)
	}
}
