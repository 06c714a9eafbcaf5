// Package http exposes the collector's status, readiness, and metrics
// endpoints over a small net/http server.
package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PublisherStatus abstracts the publish layer's broker connectivity for
// testability.
type PublisherStatus interface {
	Ping(ctx context.Context) error
}

// ListenerStatus abstracts the BMP listener's accept-loop state.
type ListenerStatus interface {
	Listening() bool
}

type Server struct {
	srv       *http.Server
	publisher PublisherStatus
	listener  ListenerStatus
	logger    *zap.Logger
}

func NewServer(addr string, publisher PublisherStatus, listener ListenerStatus, logger *zap.Logger) *Server {
	s := &Server{
		publisher: publisher,
		listener:  listener,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.listener != nil && s.listener.Listening() {
		checks["listener"] = "ok"
	} else {
		checks["listener"] = "not_listening"
		allOK = false
	}

	if s.publisher != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.publisher.Ping(ctx); err != nil {
			checks["broker"] = "error"
			allOK = false
		} else {
			checks["broker"] = "ok"
		}
	} else {
		checks["broker"] = "error"
		allOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}
