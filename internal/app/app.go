package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	dcfg "dtms/internal/config"
	"dtms/internal/executor"
	"dtms/internal/executor/journal"
	"dtms/internal/logger"
	"dtms/internal/market"
	"dtms/internal/monitor"
	"dtms/internal/store"
	httpapi "dtms/internal/transport/http"
)

// App wires configuration into running services and owns their
// lifecycle: the monitor loop, the action executor and the HTTP API.
type App struct {
	cfg     *dcfg.Config
	monitor *monitor.Monitor
	exec    *executor.Executor
	httpSrv *httpapi.Server

	source  market.Source
	history *store.Store
	journal *journal.Store
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *dcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(cfg)
}

// Run starts every service and blocks until ctx is canceled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.exec.Start()
	defer a.shutdown()

	group, ctx := errgroup.WithContext(ctx)
	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		if err := a.monitor.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	return group.Wait()
}

func (a *App) shutdown() {
	a.exec.Stop()
	if a.source != nil {
		_ = a.source.Close()
	}
	if a.history != nil {
		_ = a.history.Close()
	}
	if a.journal != nil {
		_ = a.journal.Close()
	}
	logger.Infof("shutdown complete")
}
