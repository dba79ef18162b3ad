package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"tradeflow/internal/logger"
	"tradeflow/internal/pkg/symbol"
	"tradeflow/internal/session"
)

// StartOrResumeAnalysis opens the session for symbol and moves it into
// ANALYZING. A terminal session needs reset; reset also abandons an
// unfinished workflow unless an order is in flight. The first analysis step
// is filled from the venue's market context.
func (e *Engine) StartOrResumeAnalysis(ctx context.Context, raw string, reset bool) (out Status, err error) {
	const op = "start_or_resume_analysis"
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return Status{}, e.finish(op, err)
	}
	defer e.recoverOp(op, sym, &err)

	if _, _, err := e.sessions.Open(sym); err != nil {
		return Status{}, e.finish(op, err)
	}

	var dropped string
	snap, err := e.sessions.Do(sym, func(tx *session.Tx) error {
		phase := tx.Phase()
		if reset && phase != session.PhaseIdle {
			if phase == session.PhaseExecuting || tx.InFlight() != "" {
				return newError(CodeIllegalTransition,
					fmt.Errorf("%w: an order is in flight for %s", session.ErrIllegalTransition, sym),
					"wait for fill verification to finish before resetting")
			}
			dropped = tx.StrategyID()
			if !phase.Terminal() {
				tx.Fail(KindRestart, "analysis restarted by caller")
			}
			if err := tx.Reset("analysis restart"); err != nil {
				return err
			}
			phase = tx.Phase()
		}
		switch {
		case phase == session.PhaseIdle:
			return tx.Transition(session.PhaseAnalyzing, "analysis started")
		case phase.Terminal():
			return newError(CodeIllegalTransition,
				fmt.Errorf("%w: session is %s", session.ErrIllegalTransition, phase),
				"call start_or_resume_analysis with reset=true to begin a new workflow")
		default:
			return nil
		}
	})
	if dropped != "" {
		e.cache.Discard(dropped)
	}
	if err != nil {
		return Status{}, e.finish(op, err)
	}

	if snap.Phase == session.PhaseAnalyzing {
		if _, done := snap.Checklist[e.pipeline.First()]; !done {
			snap, err = e.recordContext(ctx, sym, snap.Generation)
			if err != nil {
				return e.status(snap), e.finish(op, err)
			}
		}
	}
	return e.status(snap), e.finish(op, nil)
}

// recordContext fetches market context outside the session lock and records
// it only if the session has not moved on meanwhile.
func (e *Engine) recordContext(ctx context.Context, sym string, gen int) (session.Snapshot, error) {
	step := e.pipeline.First()
	data, fetchErr := e.contextFetch(ctx, sym)
	if fetchErr != nil {
		logger.Warnf("[engine] %s context fetch failed: %v", sym, fetchErr)
		snap, _ := e.sessions.Get(sym)
		return snap, newError(CodeVenueUnavailable, fetchErr,
			fmt.Sprintf("retry start_or_resume_analysis, or record the %q step manually", step))
	}
	return e.sessions.Do(sym, func(tx *session.Tx) error {
		if tx.Generation() != gen || tx.Phase() != session.PhaseAnalyzing || tx.Checklist().Completed(step) {
			return nil
		}
		return e.pipeline.RunStep(tx.Checklist(), step, data, e.now())
	})
}

// RecordAnalysisStep completes the next analysis step with caller data.
func (e *Engine) RecordAnalysisStep(_ context.Context, raw, step string, data json.RawMessage) (out Status, err error) {
	const op = "record_analysis_step"
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return Status{}, e.finish(op, err)
	}
	defer e.recoverOp(op, sym, &err)
	if err := e.pipeline.Validate(step, data); err != nil {
		return Status{}, e.finish(op, err)
	}

	snap, err := e.sessions.Do(sym, func(tx *session.Tx) error {
		if tx.Phase() != session.PhaseAnalyzing {
			return newError(CodeIllegalTransition,
				fmt.Errorf("%w: analysis steps are only accepted in %s, session is %s",
					session.ErrIllegalTransition, session.PhaseAnalyzing, tx.Phase()),
				"call start_or_resume_analysis first")
		}
		if err := e.pipeline.RunStep(tx.Checklist(), step, data, e.now()); err != nil {
			remedy := ""
			if next, ok := e.pipeline.Next(tx.Checklist()); ok {
				remedy = fmt.Sprintf("record the %q step next", next)
			}
			return wrap(err, remedy)
		}
		tx.Note("analysis step recorded", map[string]any{"step": step})
		return nil
	})
	if err != nil {
		if snap.Symbol == "" {
			return Status{}, e.finish(op, err)
		}
		return e.status(snap), e.finish(op, err)
	}
	return e.status(snap), e.finish(op, nil)
}

// StartMonitoring moves a session whose stops are placed into MONITORING.
func (e *Engine) StartMonitoring(_ context.Context, raw string) (out Status, err error) {
	const op = "start_monitoring"
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return Status{}, e.finish(op, err)
	}
	defer e.recoverOp(op, sym, &err)
	snap, err := e.sessions.Transition(sym, session.PhaseMonitoring, "monitoring started")
	if err != nil {
		return Status{}, e.finish(op, wrap(err, "place protective stops before monitoring"))
	}
	return e.status(snap), e.finish(op, nil)
}

// ResetSession returns an ERRORED or CLOSED session to IDLE.
func (e *Engine) ResetSession(_ context.Context, raw, note string) (out Status, err error) {
	const op = "reset_session"
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return Status{}, e.finish(op, err)
	}
	defer e.recoverOp(op, sym, &err)
	if note == "" {
		note = "operator reset"
	}
	var dropped string
	snap, err := e.sessions.Do(sym, func(tx *session.Tx) error {
		dropped = tx.StrategyID()
		return tx.Reset(note)
	})
	if err != nil {
		return Status{}, e.finish(op, wrap(err, "only ERRORED or CLOSED sessions can be reset"))
	}
	if dropped != "" {
		e.cache.Discard(dropped)
	}
	return e.status(snap), e.finish(op, nil)
}

// EvictSession drops a resting session from memory and discards any strategy
// it still references. The durable audit store keeps its rows.
func (e *Engine) EvictSession(_ context.Context, raw string) (out Status, err error) {
	const op = "evict_session"
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return Status{}, e.finish(op, err)
	}
	defer e.recoverOp(op, sym, &err)
	snap, err := e.sessions.Evict(sym)
	if err != nil {
		return Status{}, e.finish(op, wrap(err, "reset or close the session, and wait for in-flight orders, before evicting it"))
	}
	if snap.StrategyID != "" {
		e.cache.Discard(snap.StrategyID)
	}
	return e.status(snap), e.finish(op, nil)
}
