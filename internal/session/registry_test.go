package session

import (
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tradeflow/internal/analysis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (s *recordingSink) Append(e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func advance(t *testing.T, r *Registry, sym string, to Phase) {
	t.Helper()
	cur, err := r.Get(sym)
	require.NoError(t, err)
	for cur.Phase != to {
		next, ok := cur.Phase.Successor()
		require.True(t, ok)
		cur, err = r.Transition(sym, next, "test")
		require.NoError(t, err)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseIdle, PhaseAnalyzing, true},
		{PhaseIdle, PhaseStrategySelected, false},
		{PhaseAnalyzing, PhaseIdle, false},
		{PhaseRiskValidated, PhaseExecuting, true},
		{PhaseExecuting, PhaseRiskValidated, false},
		{PhaseMonitoring, PhaseClosed, true},
		{PhaseExecuting, PhaseErrored, true},
		{PhaseClosed, PhaseErrored, false},
		{PhaseErrored, PhaseErrored, false},
		{PhaseErrored, PhaseIdle, true},
		{PhaseClosed, PhaseIdle, true},
		{PhaseErrored, PhaseAnalyzing, false},
		{Phase("BOGUS"), PhaseIdle, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to))
		})
	}
}

func TestRegistry_OpenIsIdempotent(t *testing.T) {
	r := NewRegistry()
	snap, created, err := r.Open("spy")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "SPY", snap.Symbol)
	assert.Equal(t, PhaseIdle, snap.Phase)

	again, created, err := r.Open(" SPY ")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, snap.ID, again.ID)

	_, _, err = r.Open("")
	assert.Error(t, err)
}

func TestRegistry_TransitionRejectsSkips(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Open("SPY")
	require.NoError(t, err)

	snap, err := r.Transition("SPY", PhaseRiskValidated, "skip")
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Empty(t, snap.Audit)

	_, err = r.Transition("QQQ", PhaseAnalyzing, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_RecordErrorAndReset(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Open("SPY")
	require.NoError(t, err)
	advance(t, r, "SPY", PhaseAnalyzing)

	_, err = r.Do("SPY", func(tx *Tx) error {
		return analysis.DefaultPipeline().RunStep(tx.Checklist(), "context", json.RawMessage(`{}`), time.Now())
	})
	require.NoError(t, err)

	r.RecordError("SPY", "VenueTimeout", "no fill within 30s")
	r.RecordError("UNKNOWN", "x", "dropped")

	snap, err := r.Get("SPY")
	require.NoError(t, err)
	assert.Equal(t, PhaseErrored, snap.Phase)
	last, ok := snap.LastError()
	require.True(t, ok)
	assert.Equal(t, "VenueTimeout", last.Kind)
	assert.Equal(t, PhaseAnalyzing, last.Phase)

	_, err = r.Transition("SPY", PhaseAnalyzing, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	snap, err = r.Reset("SPY", "operator reset")
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Equal(t, 1, snap.Generation)
	assert.Empty(t, snap.Checklist)
	assert.Empty(t, snap.StrategyID)
	assert.Len(t, snap.Errors, 1)

	_, err = r.Reset("SPY", "again")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRegistry_SinkSeesLogOrder(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(WithAuditSink(sink), WithAuditExcerpt(2))
	_, _, err := r.Open("SPY")
	require.NoError(t, err)
	advance(t, r, "SPY", PhaseRiskValidated)
	_, err = r.Note("SPY", "risk verdict", map[string]any{"approved": true})
	require.NoError(t, err)

	history, err := r.History("SPY")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, history, sink.entries)
	assert.Equal(t, AuditNote, history[3].Kind)

	snap, err := r.Get("SPY")
	require.NoError(t, err)
	assert.Len(t, snap.Audit, 2)
	assert.Equal(t, 4, snap.AuditTotal)
}

func TestRegistry_SingleWinnerIntoExecuting(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Open("SPY")
	require.NoError(t, err)
	advance(t, r, "SPY", PhaseRiskValidated)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Transition("SPY", PhaseExecuting, "race"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRegistry_AuditPhasesAreMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := NewRegistry()
	_, _, err := r.Open("SPY")
	require.NoError(t, err)

	all := append(append([]Phase{}, happyPath...), PhaseErrored)
	for i := 0; i < 500; i++ {
		switch rng.Intn(10) {
		case 0:
			r.RecordError("SPY", "random", "fault")
		case 1:
			_, _ = r.Reset("SPY", "reset")
		default:
			_, _ = r.Transition("SPY", all[rng.Intn(len(all))], "random")
		}
	}

	history, err := r.History("SPY")
	require.NoError(t, err)
	require.NotEmpty(t, history)
	for _, e := range history {
		if e.Kind != AuditTransition {
			continue
		}
		switch {
		case e.To == PhaseErrored:
			assert.False(t, e.From.Terminal())
		case e.To == PhaseIdle && e.From.Terminal():
		default:
			assert.Equal(t, e.From.Rank()+1, e.To.Rank(), "%s -> %s", e.From, e.To)
		}
	}
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].Seq, history[i-1].Seq)
	}
}

func TestRegistry_ListAndEvict(t *testing.T) {
	r := NewRegistry()
	for _, s := range []string{"qqq", "spy", "aapl"} {
		_, _, err := r.Open(s)
		require.NoError(t, err)
	}
	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "AAPL", list[0].Symbol)

	final, err := r.Evict("spy")
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, final.Phase)
	_, err = r.Evict("spy")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get("SPY")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, r.List(), 2)
}

func TestRegistry_EvictRequiresRestingSession(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Open("SPY")
	require.NoError(t, err)
	_, err = r.Transition("SPY", PhaseAnalyzing, "start")
	require.NoError(t, err)

	_, err = r.Evict("SPY")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	r.RecordError("SPY", "test", "boom")
	_, err = r.Do("SPY", func(tx *Tx) error { return tx.Claim("close order") })
	require.NoError(t, err)
	_, err = r.Evict("SPY")
	assert.ErrorIs(t, err, ErrBusy)

	_, err = r.Do("SPY", func(tx *Tx) error {
		tx.Release()
		return nil
	})
	require.NoError(t, err)
	final, err := r.Evict("SPY")
	require.NoError(t, err)
	assert.Equal(t, PhaseErrored, final.Phase)

	_, err = r.History("SPY")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTx_ClaimIsExclusive(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Open("SPY")
	require.NoError(t, err)

	_, err = r.Do("SPY", func(tx *Tx) error { return tx.Claim("close") })
	require.NoError(t, err)
	snap, err := r.Do("SPY", func(tx *Tx) error { return tx.Claim("protect") })
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, "close", snap.InFlight)

	_, err = r.Do("SPY", func(tx *Tx) error {
		tx.Release()
		return tx.Claim("protect")
	})
	assert.NoError(t, err)
}
