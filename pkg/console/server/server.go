package server

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/leadline/pkg/config"
	"github.com/vango-go/leadline/pkg/console/handlers"
	"github.com/vango-go/leadline/pkg/console/lifecycle"
	"github.com/vango-go/leadline/pkg/console/mw"
	"github.com/vango-go/leadline/pkg/metrics"
)

type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	mux       *http.ServeMux
	calls     handlers.Calls
	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle
}

func New(cfg config.Config, calls handlers.Calls, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		calls:     calls,
		metrics:   m,
		lifecycle: lifecycle.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{
		Lifecycle:        s.lifecycle,
		Calls:            s.calls,
		APIKeyConfigured: s.cfg.GeminiAPIKey != "",
	})

	s.mux.Handle("GET /v1/state", handlers.StateHandler{Calls: s.calls})
	s.mux.Handle("GET /v1/logs", handlers.LogsHandler{Calls: s.calls})

	call := handlers.CallHandler{Calls: s.calls, Lifecycle: s.lifecycle, Logger: s.logger}
	s.mux.Handle("POST /v1/call", call)
	s.mux.Handle("DELETE /v1/call", call)

	s.mux.Handle("GET /v1/events", handlers.EventsHandler{
		Calls:        s.calls,
		Lifecycle:    s.lifecycle,
		Logger:       s.logger,
		PingInterval: s.cfg.WSPingInterval,
		WriteTimeout: s.cfg.WSWriteTimeout,
	})

	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Metrics(s.metrics, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining fails readiness and new calls, and closes open event streams.
func (s *Server) SetDraining() {
	s.lifecycle.StartDraining()
}

// WaitStreams waits for event streams to close after SetDraining.
func (s *Server) WaitStreams(done <-chan struct{}) bool {
	return s.lifecycle.WaitStreams(done)
}
