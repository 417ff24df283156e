package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/drallgood/audiohardshelf/internal/logger"
	"github.com/drallgood/audiohardshelf/internal/sync"
)

// Runner runs sync passes and remembers the last one.
type Runner interface {
	RunPass(ctx context.Context) *sync.RunSummary
	LastSummary() *sync.RunSummary
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	runner Runner
	logger *logger.Logger
}

// New creates a new HTTP server exposing health, sync and status endpoints
func New(addr string, runner Runner, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}
	s := &Server{
		server: &http.Server{
			Addr: addr,
		},
		runner: runner,
		logger: log,
	}
	s.server.Handler = logger.HTTPMiddleware(s.routes())

	s.server.ReadTimeout = 10 * time.Second
	// A pass triggered through POST /sync can take a while
	s.server.WriteTimeout = 10 * time.Minute
	s.server.IdleTimeout = 120 * time.Second

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthCheck)
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.server.Addr,
	})

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", nil)
	return s.server.Shutdown(ctx)
}

// handleHealthCheck handles health check requests
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSync runs one pass and responds with its summary
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Sync requested over HTTP", map[string]interface{}{
		"remote_addr": r.RemoteAddr,
	})
	// The pass outlives a client that disconnects mid-run.
	s.writeJSON(w, http.StatusOK, s.runner.RunPass(context.WithoutCancel(r.Context())))
}

// handleStatus responds with the most recent summary
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	last := s.runner.LastSummary()
	if last == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "no sync has run yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, last)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
