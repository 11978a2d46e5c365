package app

import (
	"context"
	"fmt"

	"tradecopy/internal/account"
	"tradecopy/internal/config"
	"tradecopy/internal/engine"
	"tradecopy/internal/journal"
	"tradecopy/internal/logger"
	"tradecopy/internal/manager"
	"tradecopy/internal/metrics"
	"tradecopy/internal/store"
	"tradecopy/internal/symbols"
	httpapi "tradecopy/internal/transport/http"
	"tradecopy/internal/venue"
	binancevenue "tradecopy/internal/venue/binance"
	"tradecopy/internal/venue/paper"
)

// build assembles the full dependency graph from configuration.
func build(ctx context.Context, cfg *config.Config) (*App, error) {
	syms, err := symbols.Load(cfg.Trading.SymbolsPath)
	if err != nil {
		return nil, fmt.Errorf("loading symbol table: %w", err)
	}
	if cfg.Trading.WatchSymbols && cfg.Trading.SymbolsPath != "" {
		if err := syms.Watch(cfg.Trading.SymbolsPath); err != nil {
			logger.Warnf("app: symbol file watching disabled: %v", err)
		}
	}

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(registry.Active()) == 0 {
		return nil, fmt.Errorf("no account could be connected")
	}

	tickets, err := store.Open(cfg.Trading.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	jrnl, err := journal.Open(cfg.Trading.JournalDBPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	mtr := metrics.New()
	queue := manager.NewQueue()
	eng := engine.New(registry, queue, syms, jrnl, mtr)
	mgr := manager.New(manager.Config{
		PollInterval:  cfg.Trading.PollInterval(),
		TP1BufferPips: cfg.Trading.SecureTP1PipsBuffer,
	}, registry, queue, tickets, jrnl, mtr)

	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Engine:  eng,
		Manager: mgr,
		Journal: jrnl,
		Metrics: mtr,
	})
	if err != nil {
		return nil, fmt.Errorf("building http server: %w", err)
	}

	return &App{
		cfg:      cfg,
		registry: registry,
		mgr:      mgr,
		server:   server,
		tickets:  tickets,
		journal:  jrnl,
		symbols:  syms,
	}, nil
}

// buildRegistry opens one venue session per enabled account and connects them.
func buildRegistry(ctx context.Context, cfg *config.Config) (*account.StaticRegistry, error) {
	var accounts []*account.Account
	for _, ac := range cfg.Accounts {
		if ac.Disabled {
			logger.Infof("app: account %d disabled in config, skipping", ac.Login)
			continue
		}
		sess, err := buildSession(cfg, ac)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", ac.Login, err)
		}
		accounts = append(accounts, account.New(ac.Login, ac.EffectiveRisk(cfg.Trading), sess))
	}
	return account.NewStaticRegistry(ctx, accounts), nil
}

func buildSession(cfg *config.Config, ac config.AccountConfig) (venue.Session, error) {
	switch cfg.Venue.Driver {
	case "paper":
		balance := ac.BalanceUSD
		if balance <= 0 {
			balance = 10000
		}
		return paper.NewSession(ac.Login, balance), nil
	case "binance":
		return binancevenue.New(binancevenue.Config{
			Login:       ac.Login,
			APIKey:      ac.APIKey,
			APISecret:   ac.APISecret,
			RESTBaseURL: cfg.Venue.RESTBaseURL,
			HTTPTimeout: cfg.Venue.Timeout(),
		})
	default:
		return nil, fmt.Errorf("unknown venue driver %q", cfg.Venue.Driver)
	}
}
