package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"memquery-agent/internal/config"
)

// HealthSource reports the agent's live status for the admin endpoint.
type HealthSource interface {
	Serving() bool
	Snapshot() map[string]any
}

// AdminServer exposes /healthz and /metrics on a loopback address,
// separate from the query surface.
type AdminServer struct {
	cfg     config.Config
	health  HealthSource
	metrics *Metrics
	logger  *slog.Logger
}

func NewAdminServer(cfg config.Config, health HealthSource, metrics *Metrics, logger *slog.Logger) *AdminServer {
	return &AdminServer{cfg: cfg, health: health, metrics: metrics, logger: logger}
}

func (s *AdminServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.AdminListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("admin endpoint listening", "addr", s.cfg.AdminListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve admin endpoint %s: %w", s.cfg.AdminListenAddr, err)
	}
	return nil
}

func (s *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func (s *AdminServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	snap := s.health.Snapshot()
	snap["node_id"] = s.cfg.NodeID
	snap["agent_version"] = s.cfg.AgentVersion
	snap["serve_mode"] = string(s.cfg.ServeMode)

	w.Header().Set("Content-Type", "application/json")
	if !s.health.Serving() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(snap)
}
