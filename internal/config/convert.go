package config

import (
	"strings"

	"tradeflow/internal/gate"
	"tradeflow/internal/risk"
	"tradeflow/internal/venue/paper"

	"github.com/shopspring/decimal"
)

// Policy 将 risk 配置段转换为风控评估使用的策略。
func (r RiskConfig) Policy() risk.Policy {
	return risk.Policy{
		MaxPositionPct:      decimal.NewFromFloat(r.MaxPositionPct),
		MaxPortfolioPct:     decimal.NewFromFloat(r.MaxPortfolioPct),
		MinRiskReward:       decimal.NewFromFloat(r.MinRiskReward),
		StopRequired:        cleanList(r.StopRequired),
		AllowedStructures:   cleanList(r.AllowedStructures),
		ForbiddenStructures: cleanList(r.ForbiddenStructures),
		BaseCurrency:        strings.ToUpper(strings.TrimSpace(r.BaseCurrency)),
	}
}

func (g GateConfig) Rules() gate.Rules {
	return gate.Rules{
		ConfirmToken:           g.ConfirmToken,
		ConditionalFields:      cleanList(g.ConditionalFields),
		ImmediateTriggerValues: cleanList(g.ImmediateTriggerValues),
		MarketOrderTypes:       cleanList(g.MarketOrderTypes),
		ExecuteNowFields:       cleanList(g.ExecuteNowFields),
	}
}

func (p PaperConfig) VenueConfig() paper.Config {
	mode, _ := paper.ParseMode(p.Mode)
	prices := make(map[string]decimal.Decimal, len(p.Prices))
	for sym, px := range p.Prices {
		prices[strings.ToUpper(strings.TrimSpace(sym))] = decimal.NewFromFloat(px)
	}
	return paper.Config{
		Currency:       strings.ToUpper(strings.TrimSpace(p.Currency)),
		Equity:         decimal.NewFromFloat(p.Equity),
		AvailableFunds: decimal.NewFromFloat(p.AvailableFunds),
		DefaultPrice:   decimal.NewFromFloat(p.DefaultPrice),
		Prices:         prices,
		FillDelay:      p.FillDelay(),
		Mode:           mode,
	}
}

func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
