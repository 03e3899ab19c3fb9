package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memquery-agent/internal/config"
	"memquery-agent/internal/hypervisor"
	"memquery-agent/internal/meminfo"
	"memquery-agent/internal/model"
	"memquery-agent/internal/query"
	"memquery-agent/internal/server"
)

type Agent struct {
	cfg     config.Config
	logger  *slog.Logger
	surface server.Surface
	admin   *server.AdminServer
	hyper   *hypervisor.View
	health  *HealthStatus
	metrics *server.Metrics
}

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	health := NewHealthStatus()
	metrics := server.NewMetrics()

	var hyper *hypervisor.View
	var hyperView query.HypervisorView
	if cfg.HypervisorEnabled() {
		hyper = hypervisor.NewView(cfg.LibvirtURI, cfg.HypervisorTimeout, logger)
		hyperView = hyper
	}

	source := &meminfo.Reader{Path: cfg.MeminfoPath()}
	svc := query.New(source, hyperView, cfg.NodeID, cfg.Hostname, logger)
	tracked := &healthQueryer{service: svc, health: health}

	surface, err := server.NewSurfaceFromConfig(cfg, tlsCfg, tracked, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("serve surface: %w", err)
	}

	return &Agent{
		cfg:     cfg,
		logger:  logger,
		surface: surface,
		admin:   server.NewAdminServer(cfg, health, metrics, logger),
		hyper:   hyper,
		health:  health,
		metrics: metrics,
	}, nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting memquery-agent", "node_id", a.cfg.NodeID, "serve_mode", a.cfg.ServeMode, "meminfo_path", a.cfg.MeminfoPath())
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
		// Agent terminated by itself (startup error/runtime error/parent ctx canceled).
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
			// graceful stop completed in time
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("memquery-agent stopped")
	return nil
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

// healthQueryer wraps the query service so every answered query feeds
// the health snapshot.
type healthQueryer struct {
	service server.Queryer
	health  *HealthStatus
}

func (q *healthQueryer) Query(ctx context.Context, req model.QueryRequest) (model.MemoryReport, error) {
	report, err := q.service.Query(ctx, req)
	if err != nil {
		return model.MemoryReport{}, err
	}
	if report.TimestampUnix > 0 {
		q.health.MarkQuery(time.Unix(report.TimestampUnix, 0).UTC())
	}
	if report.Hypervisor != nil {
		q.health.SetHypervisorConnected(true)
	}
	return report, nil
}
