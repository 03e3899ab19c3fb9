package agent

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"
)

func (a *Agent) run(ctx context.Context) error {
	if a.hyper != nil {
		if err := a.hyper.Healthy(ctx); err != nil {
			a.logger.Warn("hypervisor not reachable at startup, queries will retry", "error", err)
			a.health.SetHypervisorConnected(false)
		} else {
			a.health.SetHypervisorConnected(true)
		}
	}

	a.health.SetServing(true)
	defer a.health.SetServing(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.surface.Run(gctx)
	})
	g.Go(func() error {
		return a.runProbeListener(gctx)
	})
	if strings.TrimSpace(a.cfg.AdminListenAddr) != "" {
		g.Go(func() error {
			return a.admin.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) shutdown(ctx context.Context) {
	if a.hyper != nil {
		if err := a.hyper.Close(); err != nil {
			a.logger.Warn("hypervisor close failed", "error", err)
		}
	}
	a.health.SetServing(false)
	a.health.SetHypervisorConnected(false)
	_ = ctx
}
