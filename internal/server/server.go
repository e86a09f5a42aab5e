// Package server exposes the live state of a pipeline run over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/contradeploy/internal/middleware/logging"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
	"github.com/pendergraft/contradeploy/internal/plan"
	"github.com/pendergraft/contradeploy/internal/registry"
	"github.com/pendergraft/contradeploy/internal/verification"
)

// State is the view of a run the server reads. Implementations must be safe
// for concurrent use with the running pipeline.
type State interface {
	Stage() string
	Instances() []registry.Instance
	Records() []verification.Record
}

// Server is the status HTTP server
type Server struct {
	state  State
	logger *slog.Logger
	router *chi.Mux
}

// New creates a new server
func New(state State, logger *slog.Logger) *Server {
	s := &Server{
		state:  state,
		logger: logger,
		router: chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/registry", s.handleRegistry)
		r.Get("/registry/{identifier}", s.handleInstance)
		r.Get("/verification", s.handleVerification)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "stage": s.state.Stage()})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	instances := s.state.Instances()
	if instances == nil {
		instances = []registry.Instance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": instances})
}

func (s *Server) handleInstance(w http.ResponseWriter, r *http.Request) {
	id, err := plan.ParseIdentifier(chi.URLParam(r, "identifier"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_IDENTIFIER", err.Error())
		return
	}
	for _, inst := range s.state.Instances() {
		if inst.ID == id {
			writeJSON(w, http.StatusOK, inst)
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s is not registered", id))
}

func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	records := s.state.Records()
	if records == nil {
		records = []verification.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    records,
		"summary": verification.Summary(records),
	})
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Debug("status server stopped")
	return nil
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
