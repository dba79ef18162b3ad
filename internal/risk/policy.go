package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rule identifiers in evaluation order.
const (
	RulePositionSize    = "position_size"
	RulePortfolioRisk   = "portfolio_risk"
	RuleBuyingPower     = "buying_power"
	RuleRiskReward      = "risk_reward"
	RuleStopPlan        = "stop_plan"
	RuleInstrumentClass = "instrument_class"
)

// AnyStructure in StopRequired applies the stop rule to every structure.
const AnyStructure = "*"

var (
	defaultMaxPositionPct  = decimal.RequireFromString("0.02")
	defaultMaxPortfolioPct = decimal.RequireFromString("0.06")
	defaultMinRiskReward   = decimal.RequireFromString("1.5")
)

// DefaultForbidden lists undefined-risk short structures.
var DefaultForbidden = []string{
	"naked_call",
	"naked_put",
	"short_straddle",
	"short_strangle",
	"ratio_spread",
	"cash_secured_put",
}

// Policy is the operator's risk envelope. Percentages are fractions of live
// account equity.
type Policy struct {
	MaxPositionPct      decimal.Decimal
	MaxPortfolioPct     decimal.Decimal
	MinRiskReward       decimal.Decimal
	StopRequired        []string
	AllowedStructures   []string
	ForbiddenStructures []string
	BaseCurrency        string
}

func DefaultPolicy() Policy {
	return Policy{
		MaxPositionPct:      defaultMaxPositionPct,
		MaxPortfolioPct:     defaultMaxPortfolioPct,
		MinRiskReward:       defaultMinRiskReward,
		StopRequired:        []string{AnyStructure},
		ForbiddenStructures: append([]string(nil), DefaultForbidden...),
		BaseCurrency:        "USD",
	}
}

func (p Policy) Validate() error {
	if !p.MaxPositionPct.IsPositive() || p.MaxPositionPct.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("max_position_pct must be in (0,1], got %s", p.MaxPositionPct)
	}
	if !p.MaxPortfolioPct.IsPositive() || p.MaxPortfolioPct.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("max_portfolio_pct must be in (0,1], got %s", p.MaxPortfolioPct)
	}
	if p.MaxPortfolioPct.LessThan(p.MaxPositionPct) {
		return fmt.Errorf("max_portfolio_pct (%s) must be >= max_position_pct (%s)", p.MaxPortfolioPct, p.MaxPositionPct)
	}
	if p.MinRiskReward.IsNegative() {
		return fmt.Errorf("min_risk_reward cannot be negative")
	}
	for _, s := range p.AllowedStructures {
		if contains(p.ForbiddenStructures, s) {
			return fmt.Errorf("structure %q is both allowed and forbidden", s)
		}
	}
	return nil
}

func (p Policy) stopRequired(structure string) bool {
	return contains(p.StopRequired, AnyStructure) || contains(p.StopRequired, structure)
}

func contains(list []string, v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, item := range list {
		if strings.ToLower(strings.TrimSpace(item)) == v {
			return true
		}
	}
	return false
}
