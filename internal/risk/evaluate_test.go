package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func healthyAccount() Account {
	return Account{Equity: d("100000"), AvailableFunds: d("50000"), OpenRisk: d("1000"), Currency: "USD"}
}

func spreadTrade() Trade {
	return Trade{
		Symbol:    "SPY",
		Structure: "bull_call_spread",
		NetDebit:  d("400"),
		MaxLoss:   d("400"),
		MaxProfit: d("600"),
		HasStop:   true,
	}
}

func TestEvaluate_Approves(t *testing.T) {
	v := Evaluate(DefaultPolicy(), healthyAccount(), spreadTrade())
	assert.True(t, v.Approved)
	assert.Empty(t, v.Violations)
	assert.True(t, v.PositionFraction.Equal(d("0.004")))
	assert.True(t, v.PortfolioAfter.Equal(d("0.014")))
	assert.True(t, v.ExposureDelta.Equal(d("0.004")))
	assert.Equal(t, "approved", v.Summary())
}

func TestEvaluate_ReportsEveryViolation(t *testing.T) {
	trade := spreadTrade()
	trade.MaxLoss = d("3000")
	trade.NetDebit = d("3000")
	trade.MaxProfit = d("3000")

	v := Evaluate(DefaultPolicy(), healthyAccount(), trade)
	assert.False(t, v.Approved)
	assert.Equal(t, []string{RulePositionSize, RuleRiskReward}, v.Rules())
	assert.True(t, v.RiskRewardRatio.Equal(d("1")))
}

func TestEvaluate_Rules(t *testing.T) {
	t.Run("portfolio limit uses open risk", func(t *testing.T) {
		acct := healthyAccount()
		acct.OpenRisk = d("5800")
		v := Evaluate(DefaultPolicy(), acct, spreadTrade())
		assert.Equal(t, []string{RulePortfolioRisk}, v.Rules())
	})
	t.Run("credit structures need max loss in funds", func(t *testing.T) {
		trade := spreadTrade()
		trade.Structure = "bear_call_spread"
		trade.NetDebit = d("-150")
		trade.MaxLoss = d("350")
		trade.MaxProfit = d("150")
		acct := healthyAccount()
		acct.AvailableFunds = d("300")
		v := Evaluate(DefaultPolicy(), acct, trade)
		assert.Contains(t, v.Rules(), RuleBuyingPower)
		assert.True(t, v.RequiredFunds.Equal(d("350")))
	})
	t.Run("missing stop", func(t *testing.T) {
		trade := spreadTrade()
		trade.HasStop = false
		v := Evaluate(DefaultPolicy(), healthyAccount(), trade)
		assert.Equal(t, []string{RuleStopPlan}, v.Rules())

		p := DefaultPolicy()
		p.StopRequired = []string{"long_call"}
		assert.True(t, Evaluate(p, healthyAccount(), trade).Approved)
	})
	t.Run("forbidden regardless of size", func(t *testing.T) {
		trade := spreadTrade()
		trade.Structure = "Naked_Call"
		trade.MaxLoss = d("1")
		trade.NetDebit = d("-50")
		trade.MaxProfit = d("50")
		v := Evaluate(DefaultPolicy(), healthyAccount(), trade)
		assert.Equal(t, []string{RuleInstrumentClass}, v.Rules())
	})
	t.Run("allow list", func(t *testing.T) {
		p := DefaultPolicy()
		p.AllowedStructures = []string{"iron_condor"}
		v := Evaluate(p, healthyAccount(), spreadTrade())
		assert.Equal(t, []string{RuleInstrumentClass}, v.Rules())
	})
	t.Run("unlimited upside passes reward/risk", func(t *testing.T) {
		trade := spreadTrade()
		trade.Structure = "long_call"
		trade.MaxProfit = decimal.Zero
		trade.MaxProfitUnlimited = true
		v := Evaluate(DefaultPolicy(), healthyAccount(), trade)
		assert.True(t, v.Approved)
		assert.True(t, v.RiskRewardUnbound)
	})
	t.Run("non-positive equity fails closed", func(t *testing.T) {
		acct := healthyAccount()
		acct.Equity = decimal.Zero
		v := Evaluate(DefaultPolicy(), acct, spreadTrade())
		assert.Equal(t, []string{RulePositionSize, RulePortfolioRisk}, v.Rules())
	})
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MaxPortfolioPct = d("0.01")
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.AllowedStructures = []string{"naked_put"}
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.MaxPositionPct = decimal.Zero
	assert.Error(t, p.Validate())
}
