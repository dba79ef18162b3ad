package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyWatcherReload(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "risk:\n  max_position_pct: 0.02\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	w, err := NewPolicyWatcher(path, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Snapshot().Version)

	var got []PolicySnapshot
	w.Subscribe(func(s PolicySnapshot) { got = append(got, s) })

	require.NoError(t, os.WriteFile(path, []byte("risk:\n  max_position_pct: 0.01\ngate:\n  confirm_token: YES\n"), 0o644))
	require.NoError(t, w.Reload())

	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Version)
	assert.True(t, got[0].Risk.MaxPositionPct.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, "YES", got[0].Gate.ConfirmToken)
}

func TestPolicyWatcherKeepsSnapshotOnBadReload(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "risk:\n  max_position_pct: 0.02\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	w, err := NewPolicyWatcher(path, cfg)
	require.NoError(t, err)

	called := false
	w.Subscribe(func(PolicySnapshot) { called = true })
	w.Subscribe(func(PolicySnapshot) { panic("listener") })

	require.NoError(t, os.WriteFile(path, []byte("risk:\n  max_position_pct: 2\n"), 0o644))
	assert.Error(t, w.Reload())
	assert.False(t, called)
	assert.Equal(t, int64(1), w.Snapshot().Version)
	assert.True(t, w.Snapshot().Risk.MaxPositionPct.Equal(decimal.RequireFromString("0.02")))
}

func TestNewPolicyWatcherRequiresInputs(t *testing.T) {
	_, err := NewPolicyWatcher("", &Config{})
	assert.Error(t, err)
	_, err = NewPolicyWatcher("x.yaml", nil)
	assert.Error(t, err)
}
