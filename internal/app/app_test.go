package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"tradeflow/internal/config"
	"tradeflow/internal/engine"
	"tradeflow/internal/session"
	"tradeflow/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T, driver string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	body := "store:\n  driver: " + driver + "\n  path: " + filepath.Join(dir, "audit.out") + "\n" +
		"fill:\n  timeout_seconds: 2\n" +
		"venue:\n  paper:\n    fill_delay_ms: 5\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg, path
}

func spread() engine.StrategySpec {
	return engine.StrategySpec{
		Structure: "bull_call_spread",
		Legs: []strategy.Leg{
			{Instrument: "SPY 260619C00500000", Kind: "option", Side: "buy", Quantity: decimal.NewFromInt(1)},
			{Instrument: "SPY 260619C00510000", Kind: "option", Side: "sell", Quantity: decimal.NewFromInt(1)},
		},
		NetDebit:  decimal.NewFromInt(400),
		MaxLoss:   decimal.NewFromInt(400),
		MaxProfit: decimal.NewFromInt(600),
		Stop:      &strategy.StopPlan{StopPrice: decimal.NewFromInt(2)},
	}
}

func runWorkflow(t *testing.T, eng *engine.Engine) engine.Outcome {
	t.Helper()
	ctx := context.Background()
	_, err := eng.StartOrResumeAnalysis(ctx, "SPY", false)
	require.NoError(t, err)
	for _, step := range []string{"volatility", "liquidity", "feasibility", "portfolio_risk"} {
		_, err := eng.RecordAnalysisStep(ctx, "SPY", step, json.RawMessage(`{}`))
		require.NoError(t, err)
	}
	id, err := eng.ComputeStrategy(ctx, "SPY", spread())
	require.NoError(t, err)
	return eng.RequestExecution(ctx, engine.ExecutionRequest{
		StrategyID:   id,
		Params:       json.RawMessage(`{"order_type":"MKT"}`),
		ConfirmToken: "USER_CONFIRMED",
	})
}

func TestBuildWiresEngineAndSQLiteAudit(t *testing.T) {
	cfg, path := loadTestConfig(t, config.StoreSQLite)
	a, err := NewAppBuilder(cfg, path, WithoutHTTP()).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	out := runWorkflow(t, a.Engine())
	require.Equal(t, engine.CodeOK, out.Code, out.Message)
	assert.Equal(t, session.PhaseFillsConfirmed, out.Phase)

	stored, err := a.audit.List(context.Background(), "SPY", 0)
	require.NoError(t, err)
	history, err := a.Engine().History(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Len(t, stored, len(history))
}

func TestBuildWithJournalAndNoStore(t *testing.T) {
	cfg, path := loadTestConfig(t, config.StoreJSONL)
	a, err := NewAppBuilder(cfg, path, WithoutHTTP()).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	out := runWorkflow(t, a.Engine())
	require.True(t, out.OK(), out.Message)

	cfg, path = loadTestConfig(t, config.StoreNone)
	b, err := NewAppBuilder(cfg, path).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(b.Close)
	assert.Nil(t, b.audit)
	assert.NotNil(t, b.http)
}

func TestPolicyReloadReachesEngine(t *testing.T) {
	cfg, path := loadTestConfig(t, config.StoreNone)
	a, err := NewAppBuilder(cfg, path, WithoutHTTP()).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.watcher)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw = append(raw, []byte("risk:\n  max_position_pct: 0.001\n")...)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	require.NoError(t, a.watcher.Reload())

	assert.True(t, a.Engine().Policy().MaxPositionPct.Equal(decimal.RequireFromString("0.001")))

	out := runWorkflow(t, a.Engine())
	assert.Equal(t, engine.CodeRiskViolation, out.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg, path := loadTestConfig(t, config.StoreNone)
	a, err := NewAppBuilder(cfg, path, WithoutHTTP()).Build(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}

func TestSummaryListsSteps(t *testing.T) {
	cfg, _ := loadTestConfig(t, config.StoreNone)
	s := newStartupSummary(cfg, []string{"context", "volatility"})
	assert.Contains(t, s.String(), "context, volatility")
	assert.Contains(t, s.String(), "none")
}
