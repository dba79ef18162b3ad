package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tradeflow/internal/metrics"
	"tradeflow/internal/pkg/symbol"
	"tradeflow/internal/session"
	"tradeflow/internal/strategy"
	"tradeflow/internal/venue"

	"github.com/google/uuid"
)

// executeOrder handles raw orders against an open position: a protective
// stop after the entry fills, or a close while stops are live.
func (e *Engine) executeOrder(ctx context.Context, req ExecutionRequest, symOut *string) Outcome {
	sym, err := symbol.Normalize(req.Symbol)
	if err != nil {
		return failed(wrap(err, "raw orders require symbol"))
	}
	*symOut = sym
	base := Outcome{Symbol: sym}

	intent := strings.ToLower(strings.TrimSpace(req.Order.Intent))
	switch intent {
	case venue.IntentProtect, venue.IntentClose:
	case venue.IntentOpen:
		return base.with(invalid("raw orders cannot open exposure; compute a strategy and execute it by strategy_id"))
	default:
		return base.with(invalid("order intent must be %q or %q, got %q", venue.IntentProtect, venue.IntentClose, req.Order.Intent))
	}
	if err := validateLegs(req.Order.Legs); err != nil {
		return base.with(err)
	}
	params, perr := mergeParams(req.Order.Params, req.Params)
	if perr != nil {
		return base.with(perr)
	}

	allowed := []session.Phase{session.PhaseFillsConfirmed}
	if intent == venue.IntentClose {
		allowed = []session.Phase{session.PhaseStopsPlaced, session.PhaseMonitoring}
	}
	snap, err := e.sessions.Do(sym, func(tx *session.Tx) error {
		if !phaseIn(tx.Phase(), allowed) {
			return newError(CodeIllegalTransition,
				fmt.Errorf("%w: %s orders are accepted in %v, session is %s",
					session.ErrIllegalTransition, intent, allowed, tx.Phase()), "")
		}
		return tx.Claim(intent)
	})
	base.Phase = snap.Phase
	if err != nil {
		return base.with(wrap(err, ""))
	}
	claimed := true
	release := func() {
		if !claimed {
			return
		}
		claimed = false
		_, _ = e.sessions.Do(sym, func(tx *session.Tx) error {
			tx.Release()
			return nil
		})
	}
	defer release()

	dec, gerr := e.gate.Check(sym, params, req.ConfirmToken)
	base.Classification = string(dec.Classification.Kind())
	metrics.GateAttempt(base.Classification, dec.Admitted)
	if gerr != nil {
		return base.with(newError(CodeConfirmationRequired, gerr, e.confirmRemedy()))
	}

	if intent == venue.IntentClose && snap.Phase == session.PhaseStopsPlaced {
		snap, err = e.sessions.Transition(sym, session.PhaseMonitoring, "close requested")
		if err != nil {
			return base.with(wrap(err, ""))
		}
		base.Phase = snap.Phase
	}

	execCtx := context.WithoutCancel(ctx)
	order := venue.Order{
		ClientID: uuid.NewString(),
		Symbol:   sym,
		Intent:   intent,
		Legs:     req.Order.Legs,
		Params:   params,
	}
	handle, err := e.venue.SubmitOrder(execCtx, order)
	switch {
	case err == nil:
	case errors.Is(err, venue.ErrRejected):
		return base.with(newError(CodeVenueRejected, err, "adjust the order and resubmit"))
	case errors.Is(err, venue.ErrUnavailable):
		return base.with(newError(CodeVenueUnavailable, err, ""))
	default:
		claimed = false
		return e.submitFailed(base, sym, err)
	}
	base.OrderID = handle.OrderID

	if intent == venue.IntentProtect {
		claimed = false
		snap, err = e.sessions.Do(sym, func(tx *session.Tx) error {
			tx.Release()
			tx.Note("protective order placed", map[string]any{"order_id": handle.OrderID})
			return tx.Transition(session.PhaseStopsPlaced, "stop "+handle.OrderID)
		})
		base.Phase = snap.Phase
		if err != nil {
			return base.with(wrap(err, ""))
		}
		base.Code = CodeOK
		base.Message = "protective order accepted"
		return base
	}

	res := e.verifier.Await(execCtx, handle)
	base.Fill = &res
	claimed = false
	if !res.Filled() {
		return e.fillFailed(base, sym, res)
	}
	snap, err = e.sessions.Do(sym, func(tx *session.Tx) error {
		tx.Release()
		tx.Note("close filled", map[string]any{
			"order_id":   handle.OrderID,
			"filled_qty": res.FilledQty.String(),
			"avg_price":  res.AvgPrice.String(),
		})
		return tx.Transition(session.PhaseClosed, "position closed")
	})
	base.Phase = snap.Phase
	if err != nil {
		return base.with(wrap(err, ""))
	}
	base.Code = CodeOK
	base.Message = "position closed"
	return base
}

func validateLegs(legs []venue.OrderLeg) *Error {
	if len(legs) == 0 {
		return invalid("order needs at least one leg")
	}
	for i, l := range legs {
		if strings.TrimSpace(l.Instrument) == "" {
			return invalid("leg %d instrument is required", i)
		}
		switch strings.ToLower(l.Side) {
		case strategy.SideBuy, strategy.SideSell:
		default:
			return invalid("leg %d side must be buy or sell", i)
		}
		if !l.Quantity.IsPositive() {
			return invalid("leg %d quantity must be positive", i)
		}
	}
	return nil
}

func phaseIn(p session.Phase, list []session.Phase) bool {
	for _, item := range list {
		if p == item {
			return true
		}
	}
	return false
}
