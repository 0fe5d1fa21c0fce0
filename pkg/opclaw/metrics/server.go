package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports connection state per channel name.
type HealthFunc func() map[string]bool

// Server serves /metrics and /healthz.
type Server struct {
	addr      string
	metrics   *Metrics
	health    HealthFunc
	version   string
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// NewServer creates a server bound to addr.
func NewServer(addr, version string, m *Metrics, health HealthFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = "127.0.0.1:9464"
	}
	return &Server{
		addr:      addr,
		metrics:   m,
		health:    health,
		version:   version,
		logger:    logger.With("component", "metrics"),
		startedAt: time.Now(),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	if reg := s.metrics.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	return mux
}

// Start listens in the background.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
	s.logger.Info("metrics server started", "address", s.addr)
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Health is the /healthz response body.
type Health struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Uptime   string            `json:"uptime"`
	Channels map[string]string `json:"channels"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}

	body := Health{Status: "ok", Version: s.version, Uptime: uptime, Channels: map[string]string{}}
	code := http.StatusOK
	if s.health != nil {
		for name, connected := range s.health() {
			if connected {
				body.Channels[name] = "connected"
				continue
			}
			body.Channels[name] = "disconnected"
			body.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
