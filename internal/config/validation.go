package config

import (
	"fmt"
	"strings"
)

func validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if cfg.Trading.RiskPerTradePercent <= 0 || cfg.Trading.RiskPerTradePercent > 10 {
		return fmt.Errorf("trading.risk_per_trade_percent must be in (0, 10], got %.2f", cfg.Trading.RiskPerTradePercent)
	}
	if cfg.Trading.PollIntervalSeconds < 1 {
		return fmt.Errorf("trading.poll_interval_seconds must be >= 1, got %d", cfg.Trading.PollIntervalSeconds)
	}
	if cfg.Trading.SecureTP1PipsBuffer < 0 {
		return fmt.Errorf("trading.secure_tp1_pips_buffer cannot be negative")
	}
	switch cfg.Venue.Driver {
	case "paper", "binance":
	default:
		return fmt.Errorf("venue.driver must be paper or binance, got %q", cfg.Venue.Driver)
	}
	seen := make(map[int64]bool, len(cfg.Accounts))
	enabled := 0
	for i, acc := range cfg.Accounts {
		if acc.Login == 0 {
			return fmt.Errorf("accounts[%d]: login is required", i)
		}
		if seen[acc.Login] {
			return fmt.Errorf("accounts[%d]: duplicate login %d", i, acc.Login)
		}
		seen[acc.Login] = true
		if acc.RiskPercent < 0 || acc.RiskPercent > 10 {
			return fmt.Errorf("accounts[%d]: risk_percent must be in [0, 10]", i)
		}
		if acc.Disabled {
			continue
		}
		enabled++
		if cfg.Venue.Driver == "binance" && strings.TrimSpace(acc.APIKey) == "" {
			return fmt.Errorf("accounts[%d]: api_key is required for the binance driver", i)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled account is required")
	}
	return nil
}
