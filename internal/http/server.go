// Package http serves the agent's control plane: a health probe, the
// Prometheus scrape endpoint and the send-message API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server owns the listener and route table.
type Server struct {
	addr    string
	mux     *http.ServeMux
	limiter *RateLimiter
	srv     *http.Server
}

// NewServer creates a server for addr. gatherer backs /metrics; nil uses
// the default registry.
func NewServer(addr string, limiter *RateLimiter, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{addr: addr, mux: http.NewServeMux(), limiter: limiter}
	s.mux.HandleFunc("GET /{$}", handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

// Mux exposes the route table so handlers can RegisterRoutes on it.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Handler returns the root handler with rate limiting applied.
func (s *Server) Handler() http.Handler {
	if s.limiter == nil {
		return s.mux
	}
	return s.limiter.Middleware(s.mux)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.addr)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	slog.Info("http server shutting down")
	return s.srv.Shutdown(shutdownCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
