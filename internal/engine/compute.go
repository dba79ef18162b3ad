package engine

import (
	"context"
	"fmt"
	"strings"

	"tradeflow/internal/pkg/symbol"
	"tradeflow/internal/session"
	"tradeflow/internal/strategy"
)

// StrategySpec is the caller's requested structure with its declared figures.
type StrategySpec = strategy.Definition

// ComputeStrategy prices spec, stores it as a time-bounded artifact and
// binds it to the session. It requires a complete analysis checklist. A
// session that already selected a strategy may replace it; the previous
// artifact is discarded.
func (e *Engine) ComputeStrategy(ctx context.Context, raw string, spec StrategySpec) (id string, err error) {
	const op = "compute_strategy"
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return "", e.finish(op, err)
	}
	defer e.recoverOp(op, sym, &err)

	def, err := e.pricer.Price(ctx, sym, spec)
	if err != nil {
		return "", e.finish(op, err)
	}

	var replaced string
	_, err = e.sessions.Do(sym, func(tx *session.Tx) error {
		switch tx.Phase() {
		case session.PhaseAnalyzing:
			if missing := e.pipeline.Missing(tx.Checklist()); len(missing) > 0 {
				return newError(CodeStepOutOfOrder,
					fmt.Errorf("analysis incomplete, missing steps: %s", strings.Join(missing, ", ")),
					fmt.Sprintf("record the %q step next", missing[0]))
			}
		case session.PhaseStrategySelected:
			replaced = tx.StrategyID()
		default:
			return newError(CodeIllegalTransition,
				fmt.Errorf("%w: strategies can be computed in %s or %s, session is %s",
					session.ErrIllegalTransition, session.PhaseAnalyzing, session.PhaseStrategySelected, tx.Phase()),
				"")
		}

		newID, err := e.cache.Put(sym, def)
		if err != nil {
			return err
		}
		if tx.Phase() == session.PhaseAnalyzing {
			if err := tx.Transition(session.PhaseStrategySelected, "strategy "+newID); err != nil {
				e.cache.Discard(newID)
				return err
			}
		}
		tx.SetStrategyID(newID)
		tx.Note("strategy computed", map[string]any{
			"strategy_id": newID,
			"structure":   def.Structure,
			"max_loss":    def.MaxLoss.String(),
			"max_profit":  def.MaxProfit.String(),
			"replaces":    replaced,
		})
		id = newID
		return nil
	})
	if err != nil {
		return "", e.finish(op, err)
	}
	if replaced != "" {
		e.cache.Discard(replaced)
	}
	return id, e.finish(op, nil)
}
