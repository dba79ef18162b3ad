package config

import (
	"strings"

	"tradeflow/internal/analysis"
	"tradeflow/internal/gate"
	"tradeflow/internal/risk"
)

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9991"
	defaultStoreDriver      = StoreSQLite
	defaultStorePath        = "data/tradeflow.db"
	defaultAuditExcerpt     = 20
	defaultStrategyTTL      = 30
	defaultSweepInterval    = 60
	defaultMaxPositionPct   = 0.02
	defaultMaxPortfolioPct  = 0.06
	defaultMinRiskReward    = 1.5
	defaultBaseCurrency     = "USD"
	defaultFillTimeout      = 30
	defaultVenueMode        = VenuePaper
	defaultFailureThreshold = 5
	defaultCooldownSeconds  = 30
	defaultPaperEquity      = 100000
	defaultPaperPrice       = 100
	defaultPaperFillDelay   = 200
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Session.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Analysis.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Gate.applyDefaults(keys)
	c.Fill.applyDefaults(keys)
	c.Venue.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver))
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	if s.Driver == StoreJSONL {
		applyFieldDefaults(keys, stringFieldDefault("store.path", &s.Path, "data/audit.jsonl"))
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("store.path", &s.Path, defaultStorePath))
}

func (s *SessionConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, intFieldDefault("session.audit_excerpt", &s.AuditExcerpt, defaultAuditExcerpt))
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("strategy.ttl_minutes", &s.TTLMinutes, defaultStrategyTTL),
		intFieldDefault("strategy.sweep_interval_seconds", &s.SweepIntervalSeconds, defaultSweepInterval),
	)
}

func (a *AnalysisConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, fieldDefault{
		key:   "analysis.steps",
		need:  func() bool { return len(a.Steps) == 0 },
		apply: func() { a.Steps = append([]string(nil), analysis.DefaultSteps...) },
	})
}

// 文件中显式写出的列表即使为空也保留，`stop_required: []` 即关闭止损规则。
func (r *RiskConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("risk.max_position_pct", &r.MaxPositionPct, defaultMaxPositionPct),
		floatFieldDefault("risk.max_portfolio_pct", &r.MaxPortfolioPct, defaultMaxPortfolioPct),
		floatFieldDefault("risk.min_risk_reward", &r.MinRiskReward, defaultMinRiskReward),
		listFieldDefault("risk.stop_required", &r.StopRequired, []string{risk.AnyStructure}),
		listFieldDefault("risk.forbidden_structures", &r.ForbiddenStructures, risk.DefaultForbidden),
		stringFieldDefault("risk.base_currency", &r.BaseCurrency, defaultBaseCurrency),
	)
}

func (g *GateConfig) applyDefaults(keys keySet) {
	def := gate.DefaultRules()
	applyFieldDefaults(keys,
		stringFieldDefault("gate.confirm_token", &g.ConfirmToken, def.ConfirmToken),
		listFieldDefault("gate.conditional_fields", &g.ConditionalFields, def.ConditionalFields),
		listFieldDefault("gate.immediate_trigger_values", &g.ImmediateTriggerValues, def.ImmediateTriggerValues),
		listFieldDefault("gate.market_order_types", &g.MarketOrderTypes, def.MarketOrderTypes),
		listFieldDefault("gate.execute_now_fields", &g.ExecuteNowFields, def.ExecuteNowFields),
	)
}

func (f *FillConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, intFieldDefault("fill.timeout_seconds", &f.TimeoutSeconds, defaultFillTimeout))
}

func (v *VenueConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("venue.mode", &v.Mode, defaultVenueMode),
		intFieldDefault("venue.failure_threshold", &v.FailureThreshold, defaultFailureThreshold),
		intFieldDefault("venue.cooldown_seconds", &v.CooldownSeconds, defaultCooldownSeconds),
	)
	p := &v.Paper
	applyFieldDefaults(keys,
		stringFieldDefault("venue.paper.mode", &p.Mode, "fill"),
		stringFieldDefault("venue.paper.currency", &p.Currency, defaultBaseCurrency),
		floatFieldDefault("venue.paper.equity", &p.Equity, defaultPaperEquity),
		floatFieldDefault("venue.paper.default_price", &p.DefaultPrice, defaultPaperPrice),
		intFieldDefault("venue.paper.fill_delay_ms", &p.FillDelayMS, defaultPaperFillDelay),
	)
	applyFieldDefaults(keys, fieldDefault{
		key:   "venue.paper.available_funds",
		need:  func() bool { return p.AvailableFunds <= 0 },
		apply: func() { p.AvailableFunds = p.Equity },
	})
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
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func listFieldDefault(key string, target *[]string, def []string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return len(*target) == 0 },
		apply: func() { *target = append([]string(nil), def...) },
	}
}
