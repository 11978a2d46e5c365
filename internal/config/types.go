package config

import (
	"strings"
	"time"
)

// Config is the main configuration carrier for the copier.
type Config struct {
	App      AppConfig       `toml:"app"`
	Trading  TradingConfig   `toml:"trading"`
	Venue    VenueConfig     `toml:"venue"`
	Accounts []AccountConfig `toml:"accounts"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// TradingConfig drives risk sizing and the reconciliation loop. The poll
// interval and the target-1 buffer are deliberately configuration, not
// constants buried in the loop.
type TradingConfig struct {
	RiskPerTradePercent float64 `toml:"risk_per_trade_percent"`
	PollIntervalSeconds int     `toml:"poll_interval_seconds"`
	SecureTP1PipsBuffer float64 `toml:"secure_tp1_pips_buffer"`
	StateDBPath         string  `toml:"state_db_path"`
	JournalDBPath       string  `toml:"journal_db_path"`
	SymbolsPath         string  `toml:"symbols_path"`
	WatchSymbols        bool    `toml:"watch_symbols"`
}

// PollInterval returns the reconciliation cadence as a duration.
func (t TradingConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalSeconds) * time.Second
}

// VenueConfig selects and parameterizes the execution backend.
type VenueConfig struct {
	Driver         string `toml:"driver"` // "paper" | "binance"
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (v VenueConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutSeconds) * time.Second
}

// AccountConfig describes one brokerage account the copier drives.
type AccountConfig struct {
	Login       int64   `toml:"login"`
	Server      string  `toml:"server"`
	RiskPercent float64 `toml:"risk_percent"` // overrides trading.risk_per_trade_percent when > 0
	Disabled    bool    `toml:"disabled"`

	// binance driver credentials
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`

	// paper driver starting balance
	BalanceUSD float64 `toml:"balance_usd"`
}

// EffectiveRisk resolves the per-account risk percentage against the global
// trading default.
func (a AccountConfig) EffectiveRisk(t TradingConfig) float64 {
	if a.RiskPercent > 0 {
		return a.RiskPercent
	}
	return t.RiskPerTradePercent
}

// keySet tracks the field paths the config files explicitly set.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the defaulting rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
