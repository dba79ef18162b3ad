package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradeflow/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStoreRoundTrip(t *testing.T) {
	s, err := NewAuditStore(filepath.Join(t.TempDir(), "db", "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	at := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(session.AuditEntry{
		Seq: 1, SessionID: "a", Symbol: "SPY", Kind: session.AuditTransition,
		At: at, From: session.PhaseIdle, To: session.PhaseAnalyzing, Note: "start",
	}))
	require.NoError(t, s.Append(session.AuditEntry{
		Seq: 2, SessionID: "b", Symbol: "QQQ", Kind: session.AuditNote, At: at,
		Note: "execution gate", Fields: map[string]any{"admitted": false},
	}))
	require.NoError(t, s.Append(session.AuditEntry{
		Seq: 3, SessionID: "a", Symbol: "SPY", Kind: session.AuditError, At: at.Add(time.Second),
		Note: "venue_timeout", Fields: map[string]any{"detail": "no fill"},
	}))

	spy, err := s.List(context.Background(), "spy", 0)
	require.NoError(t, err)
	require.Len(t, spy, 2)
	assert.Equal(t, uint64(1), spy[0].Seq)
	assert.Equal(t, session.PhaseAnalyzing, spy[0].To)
	assert.True(t, spy[0].At.Equal(at))
	assert.Equal(t, "no fill", spy[1].Fields["detail"])

	all, err := s.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	qqq, err := s.List(context.Background(), "QQQ", 0)
	require.NoError(t, err)
	require.Len(t, qqq, 1)
	assert.Equal(t, false, qqq[0].Fields["admitted"])
}

func TestAuditStoreLimitKeepsNewestInOrder(t *testing.T) {
	s, err := NewAuditStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(session.AuditEntry{Seq: uint64(i), Symbol: "SPY", Kind: session.AuditNote, At: time.Now()}))
	}
	got, err := s.List(context.Background(), "SPY", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(4), got[0].Seq)
	assert.Equal(t, uint64(5), got[1].Seq)
}

func TestNewAuditStoreRejectsEmptyPath(t *testing.T) {
	_, err := NewAuditStore("  ")
	assert.Error(t, err)
	_, err = NewAuditStoreFromDB(nil)
	assert.Error(t, err)
}

func TestRegistryWritesThrough(t *testing.T) {
	s, err := NewAuditStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := session.NewRegistry(session.WithAuditSink(s))
	_, _, err = reg.Open("iwm")
	require.NoError(t, err)
	_, err = reg.Transition("IWM", session.PhaseAnalyzing, "begin")
	require.NoError(t, err)

	history, err := reg.History("IWM")
	require.NoError(t, err)
	stored, err := s.List(context.Background(), "IWM", 0)
	require.NoError(t, err)
	require.Len(t, stored, len(history))
	for i := range history {
		assert.Equal(t, history[i].Seq, stored[i].Seq)
		assert.Equal(t, history[i].Kind, stored[i].Kind)
	}
}
