// Package server provides the execution status server: plan history, the
// state of the running execution, a websocket event stream and metrics.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/config"
	"github.com/limiquantix/replanner/internal/executor"
	"github.com/limiquantix/replanner/internal/plan"
)

// PlanRepository stores the computed plans and the events of their
// executions.
type PlanRepository interface {
	SavePlan(ctx context.Context, rec *plan.PlanRecord) error
	GetPlan(ctx context.Context, id string) (*plan.PlanRecord, error)
	ListPlans(ctx context.Context, limit int) ([]*plan.PlanRecord, error)
	Events(ctx context.Context, executionID string) ([]executor.Event, error)
}

// Execution is the view of a running execution needed by the server.
type Execution interface {
	ID() uuid.UUID
	Plan() *plan.TimedReconfigurationPlan
	Graph() *plan.Graph
	States() []executor.State
}

// Server represents the status HTTP server.
type Server struct {
	config     config.ServerConfig
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux

	plans    PlanRepository
	gatherer prometheus.Gatherer
	hub      *Hub

	mu        sync.RWMutex
	execution Execution
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPlans enables the plan history endpoints.
func WithPlans(repo PlanRepository) ServerOption {
	return func(s *Server) {
		s.plans = repo
	}
}

// WithGatherer exposes the metrics of a registry on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a new server instance.
func New(cfg config.ServerConfig, logger *zap.Logger, opts ...ServerOption) *Server {
	logger = logger.With(zap.String("component", "server"))
	s := &Server{
		config: cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		hub:    NewHub(256, logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.setupMiddleware(s.mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Events returns the sink feeding the websocket stream.
func (s *Server) Events() *Hub {
	return s.hub
}

// Track makes an execution the one reported by /api/execution.
func (s *Server) Track(e Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execution = e
}

// Handler returns the HTTP handler with its middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /api/plans", s.listPlansHandler)
	s.mux.HandleFunc("GET /api/plans/{id}", s.getPlanHandler)
	s.mux.HandleFunc("GET /api/executions/{id}/events", s.executionEventsHandler)
	s.mux.HandleFunc("GET /api/execution", s.executionHandler)
	s.mux.HandleFunc("GET /api/events/stream", s.hub.ServeHTTP)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	})

	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting status server", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down status server: %w", err)
	}
	s.logger.Info("Status server stopped")
	return nil
}
