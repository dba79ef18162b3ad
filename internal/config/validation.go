package config

import (
	"fmt"
	"strings"

	"tradeflow/internal/analysis"
	"tradeflow/internal/venue/paper"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if c.Session.AuditExcerpt < 0 {
		return fmt.Errorf("session.audit_excerpt must be >= 0")
	}
	if c.Strategy.TTLMinutes <= 0 {
		return fmt.Errorf("strategy.ttl_minutes must be > 0")
	}
	if c.Strategy.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("strategy.sweep_interval_seconds must be > 0")
	}
	if _, err := analysis.NewWithSchemas(c.Analysis.Steps, nil); err != nil {
		return fmt.Errorf("analysis.steps: %w", err)
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Gate.validate(); err != nil {
		return err
	}
	if c.Fill.TimeoutSeconds <= 0 {
		return fmt.Errorf("fill.timeout_seconds must be > 0")
	}
	return c.Venue.validate()
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug|info|warn|error, got %q", a.LogLevel)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case StoreSQLite, StoreJSONL:
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("store.path is required for driver %s", s.Driver)
		}
	case StoreNone:
	default:
		return fmt.Errorf("store.driver must be sqlite|jsonl|none, got %q", s.Driver)
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if err := r.Policy().Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	return nil
}

func (g *GateConfig) validate() error {
	if err := g.Rules().Validate(); err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	return nil
}

func (v *VenueConfig) validate() error {
	if strings.ToLower(strings.TrimSpace(v.Mode)) != VenuePaper {
		return fmt.Errorf("venue.mode %q is not supported (only %s)", v.Mode, VenuePaper)
	}
	if v.FailureThreshold <= 0 {
		return fmt.Errorf("venue.failure_threshold must be > 0")
	}
	if v.CooldownSeconds <= 0 {
		return fmt.Errorf("venue.cooldown_seconds must be > 0")
	}
	if _, err := paper.ParseMode(v.Paper.Mode); err != nil {
		return fmt.Errorf("venue.paper.mode: %w", err)
	}
	if v.Paper.Equity < 0 || v.Paper.AvailableFunds < 0 {
		return fmt.Errorf("venue.paper balances cannot be negative")
	}
	for sym, px := range v.Paper.Prices {
		if px <= 0 {
			return fmt.Errorf("venue.paper.prices.%s must be > 0", sym)
		}
	}
	return nil
}
