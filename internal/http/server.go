// Package http exposes the per-node admin surface: health, status and
// metrics snapshots, replica listing and a manual view seal.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = time.Second * 5
)

// Server represents the admin HTTP server for one node.
type Server struct {
	httpServer *http.Server
	URL        string
	addr       string

	status   func() any
	metrics  func() map[string]uint64
	seal     func()
	replicas func() ([]string, error)
}

// NewServer creates a new server instance. seal and replicas are optional;
// their routes are registered only when provided.
func NewServer(port string, status func() any, metrics func() map[string]uint64, seal func(), replicas func() ([]string, error)) *Server {
	return &Server{
		URL:      "http://localhost:" + port,
		addr:     ":" + port,
		status:   status,
		metrics:  metrics,
		seal:     seal,
		replicas: replicas,
	}
}

// Start starts the server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)

	if s.seal != nil {
		r.Post("/seal", s.handleSeal)
	}
	if s.replicas != nil {
		r.Get("/replicas", s.handleReplicas)
	}

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	vals := s.metrics()
	names := make([]string, 0, len(vals))
	for name := range vals {
		names = append(names, name)
	}
	sort.Strings(names)

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "# lazylog metrics")
	for _, name := range names {
		fmt.Fprintf(w, "lazylog_%s %d\n", name, vals[name])
	}
}

func (s *Server) handleSeal(w http.ResponseWriter, r *http.Request) {
	s.seal()
	slog.Info("view sealed via admin request")
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleReplicas(w http.ResponseWriter, r *http.Request) {
	replicas, err := s.replicas()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, replicas)
}
