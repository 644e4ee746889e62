// Package httpapi exposes the clio control surface over HTTP: pipeline
// lifecycle control, transcript snapshots, live streaming over SSE and
// WebSocket, health probes, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cliolabs/clio/internal/health"
	"github.com/cliolabs/clio/internal/observe"
	"github.com/cliolabs/clio/internal/pipeline"
)

// shutdownTimeout bounds the drain of in-flight requests on Run exit.
const shutdownTimeout = 10 * time.Second

// ServerConfig wires the HTTP server.
type ServerConfig struct {
	// ListenAddr is the address the server binds, e.g. ":8000".
	ListenAddr string

	// Supervisor is the pipeline the control surface manages. Required.
	Supervisor *pipeline.Supervisor

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	// KeepAlive is the SSE keepalive interval. Defaults to 30s.
	KeepAlive time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server is the clio HTTP control surface.
type Server struct {
	sup       *pipeline.Supervisor
	metrics   *observe.Metrics
	keepAlive time.Duration
	log       *slog.Logger

	handler http.Handler
	srv     *http.Server
}

// New builds the server and its route table.
func New(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}

	s := &Server{
		sup:       cfg.Supervisor,
		metrics:   metrics,
		keepAlive: keepAlive,
		log:       log.With("component", "httpapi"),
	}

	mux := http.NewServeMux()

	health.New(
		health.Checker{Name: "pipeline", Check: s.checkPipeline},
		health.Checker{Name: "upstream", Check: s.checkUpstream},
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/control/start", s.handleStart)
	mux.HandleFunc("POST /v1/control/stop", s.handleStop)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/metrics/pipeline", s.handlePipelineMetrics)
	mux.HandleFunc("GET /v1/audio/devices", s.handleDevices)

	mux.HandleFunc("GET /v1/transcript/unconsolidated", s.handleUnconsolidated)
	mux.HandleFunc("GET /v1/transcript/consolidated", s.handleConsolidated)
	mux.HandleFunc("GET /v1/transcript/questions", s.handleQuestions)

	mux.HandleFunc("GET /v1/stream/transcript", s.handleSSE)
	mux.HandleFunc("GET /v1/stream/ws", s.handleWS)

	s.handler = observe.Middleware(metrics)(mux)
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full middleware-wrapped route table.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	err := <-errCh
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) checkPipeline(context.Context) error {
	switch state := s.sup.State(); state {
	case pipeline.StateRunning, pipeline.StateDegraded:
		return nil
	default:
		return fmt.Errorf("pipeline is %s", state)
	}
}

func (s *Server) checkUpstream(context.Context) error {
	if !s.sup.Health().WhisperLiveConnected {
		return errors.New("transcription service not connected")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
