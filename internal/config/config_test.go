package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradeflow/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Strategy.TTL())
	assert.Equal(t, 30*time.Second, cfg.Fill.Timeout())
	assert.Equal(t, []string{"context", "volatility", "liquidity", "feasibility", "portfolio_risk"}, cfg.Analysis.Steps)

	p := cfg.Risk.Policy()
	assert.True(t, p.MaxPositionPct.Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, []string{risk.AnyStructure}, p.StopRequired)
	assert.Equal(t, risk.DefaultForbidden, p.ForbiddenStructures)
	assert.Equal(t, "USER_CONFIRMED", cfg.Gate.Rules().ConfirmToken)
	assert.Equal(t, cfg.Venue.Paper.Equity, cfg.Venue.Paper.AvailableFunds)
}

func TestExplicitEmptyListIsKept(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "risk:\n  stop_required: []\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Risk.Policy().StopRequired)
}

func TestIncludesMergeBeforeParent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "risk.yaml", "risk:\n  max_position_pct: 0.01\n  max_portfolio_pct: 0.03\n")
	path := writeFile(t, dir, "config.yaml", "include: [risk.yaml]\nrisk:\n  max_portfolio_pct: 0.05\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, cfg.Risk.MaxPositionPct, 1e-9)
	assert.InDelta(t, 0.05, cfg.Risk.MaxPortfolioPct, 1e-9)
}

func TestIncludeCycleDetected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]string{
		"driver":    "store:\n  driver: postgres\n",
		"portfolio": "risk:\n  max_position_pct: 0.1\n  max_portfolio_pct: 0.05\n",
		"token":     "gate:\n  confirm_token: \" \"\n",
		"steps":     "analysis:\n  steps: [a, a]\n",
		"venue":     "venue:\n  mode: live\n",
		"paper":     "venue:\n  paper:\n    mode: explode\n",
		"level":     "app:\n  log_level: loud\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestPaperVenueConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "venue:\n  paper:\n    mode: partial\n    prices:\n      spy: 500\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	pc := cfg.Venue.Paper.VenueConfig()
	assert.Equal(t, "partial", string(pc.Mode))
	assert.True(t, pc.Prices["SPY"].Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 200*time.Millisecond, pc.FillDelay)
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "USD", cfg.Risk.BaseCurrency)
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultConfigPath, PathFromEnv())
	t.Setenv(EnvConfigPath, "/etc/tradeflow.yaml")
	assert.Equal(t, "/etc/tradeflow.yaml", PathFromEnv())
}
