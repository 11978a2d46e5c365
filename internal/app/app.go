// Package app performs application-level orchestration: load configuration,
// build the dependency graph, run the HTTP intake and the reconciliation loop
// until shutdown.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tradecopy/internal/account"
	"tradecopy/internal/config"
	"tradecopy/internal/journal"
	"tradecopy/internal/logger"
	"tradecopy/internal/manager"
	"tradecopy/internal/store"
	"tradecopy/internal/symbols"
	httpapi "tradecopy/internal/transport/http"
)

// App holds the assembled copier.
type App struct {
	cfg      *config.Config
	registry *account.StaticRegistry
	mgr      *manager.Manager
	server   *httpapi.Server
	tickets  *store.TicketStore
	journal  *journal.Store
	symbols  *symbols.Table
}

// NewApp builds the application from configuration without starting it.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(ctx, cfg)
}

// Run recovers persisted state, then serves until ctx is cancelled. The
// reconciliation loop and the HTTP server share a lifetime: either one
// failing brings the whole process down.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.closeAll()

	if err := a.mgr.Recover(ctx); err != nil {
		return fmt.Errorf("state recovery failed: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.mgr.Run(ctx)
	})
	logger.Infof("tradecopy: up, listening on %s with %d active accounts",
		a.server.Addr(), len(a.registry.Active()))
	return group.Wait()
}

func (a *App) closeAll() {
	if a.registry != nil {
		a.registry.CloseAll()
	}
	if a.symbols != nil {
		a.symbols.Close()
	}
	if a.tickets != nil {
		if err := a.tickets.Close(); err != nil {
			logger.Warnf("app: closing ticket store failed: %v", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("app: closing journal failed: %v", err)
		}
	}
}
