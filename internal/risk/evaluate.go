package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const fractionPlaces = 6

// Account is the live venue state read at evaluation time.
type Account struct {
	Equity         decimal.Decimal
	AvailableFunds decimal.Decimal
	// OpenRisk is the summed worst-case loss of positions already open.
	OpenRisk decimal.Decimal
	Currency string
}

// Trade is the proposed position in the account base currency.
type Trade struct {
	Symbol             string
	Structure          string
	NetDebit           decimal.Decimal
	MaxLoss            decimal.Decimal
	MaxProfit          decimal.Decimal
	MaxProfitUnlimited bool
	HasStop            bool
}

type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Verdict lists every rule the trade breaks, not just the first.
type Verdict struct {
	Approved           bool            `json:"approved"`
	Violations         []Violation     `json:"violations,omitempty"`
	MaxLoss            decimal.Decimal `json:"max_loss"`
	PositionFraction   decimal.Decimal `json:"position_fraction"`
	PortfolioBefore    decimal.Decimal `json:"portfolio_before"`
	PortfolioAfter     decimal.Decimal `json:"portfolio_after"`
	ExposureDelta      decimal.Decimal `json:"exposure_delta"`
	RequiredFunds      decimal.Decimal `json:"required_funds"`
	RiskRewardRatio    decimal.Decimal `json:"risk_reward_ratio"`
	RiskRewardUnbound  bool            `json:"risk_reward_unbounded,omitempty"`
	EvaluatedStructure string          `json:"structure"`
}

func (v Verdict) Rules() []string {
	out := make([]string, 0, len(v.Violations))
	for _, item := range v.Violations {
		out = append(out, item.Rule)
	}
	return out
}

// Summary renders violations as one line for outcomes and logs.
func (v Verdict) Summary() string {
	if v.Approved {
		return "approved"
	}
	parts := make([]string, 0, len(v.Violations))
	for _, item := range v.Violations {
		parts = append(parts, item.Rule+": "+item.Message)
	}
	return strings.Join(parts, "; ")
}

// AuditFields flattens the verdict for the session audit log.
func (v Verdict) AuditFields() map[string]any {
	return map[string]any{
		"approved":          v.Approved,
		"violations":        strings.Join(v.Rules(), ","),
		"max_loss":          v.MaxLoss.String(),
		"position_fraction": v.PositionFraction.String(),
		"exposure_delta":    v.ExposureDelta.String(),
		"portfolio_after":   v.PortfolioAfter.String(),
		"structure":         v.EvaluatedStructure,
	}
}

// Evaluate runs every check in fixed order and approves only with zero
// violations. It has no side effects.
func Evaluate(policy Policy, account Account, trade Trade) Verdict {
	structure := strings.ToLower(strings.TrimSpace(trade.Structure))
	v := Verdict{
		MaxLoss:            trade.MaxLoss,
		EvaluatedStructure: structure,
	}
	add := func(rule, format string, args ...any) {
		v.Violations = append(v.Violations, Violation{Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	equity := account.Equity
	if equity.IsPositive() {
		v.PositionFraction = trade.MaxLoss.DivRound(equity, fractionPlaces)
		v.PortfolioBefore = account.OpenRisk.DivRound(equity, fractionPlaces)
		v.PortfolioAfter = account.OpenRisk.Add(trade.MaxLoss).DivRound(equity, fractionPlaces)
		v.ExposureDelta = v.PortfolioAfter.Sub(v.PortfolioBefore)
	}

	// position_size
	switch {
	case !equity.IsPositive():
		add(RulePositionSize, "account equity %s is not positive", equity)
	case v.PositionFraction.GreaterThan(policy.MaxPositionPct):
		add(RulePositionSize, "max loss %s is %s of equity, limit %s",
			trade.MaxLoss, pct(v.PositionFraction), pct(policy.MaxPositionPct))
	}

	// portfolio_risk
	switch {
	case !equity.IsPositive():
		add(RulePortfolioRisk, "account equity %s is not positive", equity)
	case v.PortfolioAfter.GreaterThan(policy.MaxPortfolioPct):
		add(RulePortfolioRisk, "portfolio risk would be %s of equity, limit %s",
			pct(v.PortfolioAfter), pct(policy.MaxPortfolioPct))
	}

	// buying_power
	required := trade.NetDebit
	if !required.IsPositive() {
		required = trade.MaxLoss
	}
	v.RequiredFunds = required
	if required.GreaterThan(account.AvailableFunds) {
		add(RuleBuyingPower, "requires %s, available %s", required, account.AvailableFunds)
	}

	// risk_reward
	switch {
	case trade.MaxProfitUnlimited:
		v.RiskRewardUnbound = true
	case !trade.MaxLoss.IsPositive():
		add(RuleRiskReward, "max loss must be positive to compute reward/risk")
	default:
		v.RiskRewardRatio = trade.MaxProfit.DivRound(trade.MaxLoss, 4)
		if v.RiskRewardRatio.LessThan(policy.MinRiskReward) {
			add(RuleRiskReward, "reward/risk %s below minimum %s", v.RiskRewardRatio, policy.MinRiskReward)
		}
	}

	// stop_plan
	if policy.stopRequired(structure) && !trade.HasStop {
		add(RuleStopPlan, "%s requires a protective stop plan", structure)
	}

	// instrument_class
	switch {
	case contains(policy.ForbiddenStructures, structure):
		add(RuleInstrumentClass, "%s is forbidden", structure)
	case len(policy.AllowedStructures) > 0 && !contains(policy.AllowedStructures, structure):
		add(RuleInstrumentClass, "%s is not in the allowed structures", structure)
	}

	v.Approved = len(v.Violations) == 0
	return v
}

func pct(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
