package config

import "strings"

const (
	defaultAppEnv       = "dev"
	defaultAppLogLevel  = "info"
	defaultAppHTTPAddr  = ":9982"
	defaultRiskPercent  = 1.0
	defaultPollSeconds  = 2
	defaultTP1BufferPip = 0.0
	defaultStateDBPath  = "data/positions_state.db"
	defaultJournalPath  = "data/journal.db"
	defaultVenueDriver  = "paper"
	defaultVenueTimeout = 15
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Venue.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("trading.risk_per_trade_percent", &t.RiskPerTradePercent, defaultRiskPercent),
		intFieldDefault("trading.poll_interval_seconds", &t.PollIntervalSeconds, defaultPollSeconds),
		floatFieldDefault("trading.secure_tp1_pips_buffer", &t.SecureTP1PipsBuffer, defaultTP1BufferPip),
		stringFieldDefault("trading.state_db_path", &t.StateDBPath, defaultStateDBPath),
		stringFieldDefault("trading.journal_db_path", &t.JournalDBPath, defaultJournalPath),
	)
}

func (v *VenueConfig) applyDefaults(keys keySet) {
	if v == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("venue.driver", &v.Driver, defaultVenueDriver),
		intFieldDefault("venue.timeout_seconds", &v.TimeoutSeconds, defaultVenueTimeout),
	)
	v.Driver = strings.ToLower(strings.TrimSpace(v.Driver))
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
