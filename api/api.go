// Package api exposes the service over HTTP: resolution endpoints,
// tree snapshots, source status, health and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taxomat/taxomat/service"
)

// maxRequestBodySize limits POST body sizes.
const maxRequestBodySize = 1 << 20 // 1 MB

// shutdownTimeout bounds graceful drain on stop.
const shutdownTimeout = 5 * time.Second

// Server serves the HTTP API over a running service.
type Server struct {
	service *service.Service
	logger  *slog.Logger
}

// New creates an API server.
func New(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{service: svc, logger: logger}
}

// Handler builds the route table. Handlers are registered as:
//
//	GET  /api/v1/lookup
//	GET  /api/v1/expand
//	GET  /api/v1/search
//	GET  /api/v1/tree
//	GET  /api/v1/tree/audit
//	POST /api/v1/rebuild
//	GET  /api/v1/sources
//	GET  /healthz
//	GET  /metrics
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/lookup", s.handleLookup)
	mux.HandleFunc("/api/v1/expand", s.handleExpand)
	mux.HandleFunc("/api/v1/search", s.handleSearch)
	mux.HandleFunc("/api/v1/tree", s.handleTree)
	mux.HandleFunc("/api/v1/tree/audit", s.handleTreeAudit)
	mux.HandleFunc("/api/v1/rebuild", s.handleRebuild)
	mux.HandleFunc("/api/v1/sources", s.handleSources)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return s.logRequests(mux)
}

// Serve runs the API until the context ends, then drains gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("API listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// statusWriter records the response code for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).Round(time.Microsecond))
	})
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already partially written; nothing left to do.
		_ = err
	}
}
