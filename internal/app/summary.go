package app

import (
	"fmt"
	"sort"
	"strings"

	"tradeflow/internal/config"
	"tradeflow/internal/logger"
)

type StartupSummary struct {
	Env           string
	HTTPAddr      string
	Store         string
	Steps         []string
	StrategyTTL   string
	FillTimeout   string
	VenueMode     string
	PaperMode     string
	PaperPrices   map[string]float64
	MaxPosition   float64
	MaxPortfolio  float64
	MinRiskReward float64
	StopRequired  []string
	Forbidden     []string
}

func newStartupSummary(cfg *config.Config, steps []string) *StartupSummary {
	storeDesc := cfg.Store.Driver
	if cfg.Store.Driver != config.StoreNone {
		storeDesc = fmt.Sprintf("%s (%s)", cfg.Store.Driver, cfg.Store.Path)
	}
	return &StartupSummary{
		Env:           cfg.App.Env,
		HTTPAddr:      cfg.App.HTTPAddr,
		Store:         storeDesc,
		Steps:         steps,
		StrategyTTL:   cfg.Strategy.TTL().String(),
		FillTimeout:   cfg.Fill.Timeout().String(),
		VenueMode:     cfg.Venue.Mode,
		PaperMode:     cfg.Venue.Paper.Mode,
		PaperPrices:   cfg.Venue.Paper.Prices,
		MaxPosition:   cfg.Risk.MaxPositionPct,
		MaxPortfolio:  cfg.Risk.MaxPortfolioPct,
		MinRiskReward: cfg.Risk.MinRiskReward,
		StopRequired:  cfg.Risk.StopRequired,
		Forbidden:     cfg.Risk.ForbiddenStructures,
	}
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 60)
	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "STARTUP SUMMARY")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "[app]      env=%s http=%s store=%s\n", s.Env, s.HTTPAddr, s.Store)
	fmt.Fprintf(&b, "[analysis] steps: %s\n", formatList(s.Steps))
	fmt.Fprintf(&b, "[strategy] ttl=%s fill_timeout=%s\n", s.StrategyTTL, s.FillTimeout)
	fmt.Fprintf(&b, "[risk]     max_position=%.4g max_portfolio=%.4g min_rr=%.4g\n", s.MaxPosition, s.MaxPortfolio, s.MinRiskReward)
	fmt.Fprintf(&b, "           stop_required: %s\n", formatList(s.StopRequired))
	fmt.Fprintf(&b, "           forbidden: %s\n", formatList(s.Forbidden))
	fmt.Fprintf(&b, "[venue]    mode=%s paper=%s\n", s.VenueMode, s.PaperMode)
	if len(s.PaperPrices) > 0 {
		symbols := make([]string, 0, len(s.PaperPrices))
		for sym := range s.PaperPrices {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			fmt.Fprintf(&b, "           %s @ %.2f\n", strings.ToUpper(sym), s.PaperPrices[sym])
		}
	}
	b.WriteString(line)
	return b.String()
}

func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
