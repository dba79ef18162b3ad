package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"tradeflow/internal/fill"
	"tradeflow/internal/logger"
	"tradeflow/internal/metrics"
	"tradeflow/internal/pkg/symbol"
	"tradeflow/internal/risk"
	"tradeflow/internal/session"
	"tradeflow/internal/strategy"
	"tradeflow/internal/venue"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RawOrder is an explicit order for an existing position. Only protective
// stops and closes are accepted; new exposure goes through a strategy.
type RawOrder struct {
	Intent string           `json:"intent"`
	Legs   []venue.OrderLeg `json:"legs"`
	Params json.RawMessage  `json:"params,omitempty"`
}

// ExecutionRequest names either a computed strategy or a raw order. It is
// never persisted.
type ExecutionRequest struct {
	Symbol       string          `json:"symbol,omitempty"`
	StrategyID   string          `json:"strategy_id,omitempty"`
	Order        *RawOrder       `json:"order,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	ConfirmToken string          `json:"confirm_token,omitempty"`
}

// RequestExecution runs risk validation, the confirmation gate, submission
// and fill verification. It never panics and never returns without a code.
func (e *Engine) RequestExecution(ctx context.Context, req ExecutionRequest) (out Outcome) {
	const op = "request_execution"
	ctx, span := otel.Tracer("tradeflow/engine").Start(ctx, "engine.request_execution")
	defer span.End()

	var sym string
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[engine] panic in %s for %s: %v\n%s", op, sym, r, debug.Stack())
			if sym != "" {
				e.sessions.RecordError(sym, KindInternal, "internal fault during execution")
			}
			out = failed(newError(CodeInternal, errors.New("internal fault during execution"), ""))
			out.Symbol = sym
		}
		metrics.Outcome(op, string(out.Code))
		span.SetAttributes(
			attribute.String("session.symbol", out.Symbol),
			attribute.String("outcome.code", string(out.Code)),
			attribute.String("strategy.id", out.StrategyID),
		)
		if !out.OK() {
			span.SetStatus(codes.Error, out.Message)
		}
	}()

	if err := validateParams(req.Params); err != nil {
		return failed(err)
	}
	switch {
	case req.StrategyID != "" && req.Order != nil:
		return failed(invalid("provide either strategy_id or order, not both"))
	case req.StrategyID != "":
		return e.executeStrategy(ctx, req, &sym)
	case req.Order != nil:
		return e.executeOrder(ctx, req, &sym)
	default:
		return failed(invalid("strategy_id or order is required"))
	}
}

func (e *Engine) executeStrategy(ctx context.Context, req ExecutionRequest, symOut *string) Outcome {
	id := strings.TrimSpace(req.StrategyID)
	art, err := e.cache.Get(id)
	if err != nil {
		return failed(wrap(err, ""))
	}
	sym := art.Symbol
	if req.Symbol != "" {
		reqSym, err := symbol.Normalize(req.Symbol)
		if err != nil {
			return failed(wrap(err, ""))
		}
		if reqSym != sym {
			return failed(invalid("strategy %s belongs to %s, not %s", id, sym, reqSym))
		}
	}
	*symOut = sym
	base := Outcome{Symbol: sym, StrategyID: id}
	if art.Consumed {
		return base.with(newError(CodeAlreadyConsumed, fmt.Errorf("%w: %s", strategy.ErrAlreadyConsumed, id), ""))
	}

	var gen int
	snap, err := e.sessions.Do(sym, func(tx *session.Tx) error {
		gen = tx.Generation()
		return e.checkBinding(tx, gen, id, session.PhaseStrategySelected, session.PhaseRiskValidated)
	})
	base.Phase = snap.Phase
	if err != nil {
		return base.with(wrap(err, ""))
	}

	acct, err := e.venue.GetAccountState(ctx)
	if err != nil {
		return base.with(newError(CodeVenueUnavailable, fmt.Errorf("account state unavailable: %w", err), ""))
	}
	policy := e.Policy()
	if policy.BaseCurrency != "" && acct.Currency != "" && !strings.EqualFold(policy.BaseCurrency, acct.Currency) {
		return base.with(newError(CodeInternal,
			fmt.Errorf("account currency %s does not match policy base currency %s", acct.Currency, policy.BaseCurrency),
			"align risk.base_currency with the venue account"))
	}

	verdict := risk.Evaluate(policy, toRiskAccount(acct), toRiskTrade(sym, art.Definition))
	metrics.RiskVerdict(verdict.Approved, verdict.Rules())
	base.Verdict = &verdict
	snap, err = e.sessions.Do(sym, func(tx *session.Tx) error {
		if err := e.checkBinding(tx, gen, id, session.PhaseStrategySelected, session.PhaseRiskValidated); err != nil {
			return err
		}
		tx.Note("risk verdict", verdict.AuditFields())
		if !verdict.Approved {
			return newError(CodeRiskViolation, errors.New(verdict.Summary()), "")
		}
		if tx.Phase() == session.PhaseStrategySelected {
			return tx.Transition(session.PhaseRiskValidated, "risk approved")
		}
		return nil
	})
	base.Phase = snap.Phase
	if err != nil {
		return base.with(wrap(err, ""))
	}

	params, perr := mergeParams(art.Definition.Params, req.Params)
	if perr != nil {
		return base.with(perr)
	}
	dec, gerr := e.gate.Check(sym, params, req.ConfirmToken)
	base.Classification = string(dec.Classification.Kind())
	metrics.GateAttempt(base.Classification, dec.Admitted)
	if gerr != nil {
		return base.with(newError(CodeConfirmationRequired, gerr, e.confirmRemedy()))
	}

	snap, err = e.sessions.Do(sym, func(tx *session.Tx) error {
		if err := e.checkBinding(tx, gen, id, session.PhaseRiskValidated); err != nil {
			return err
		}
		return tx.Transition(session.PhaseExecuting, "submitting strategy "+id)
	})
	base.Phase = snap.Phase
	if err != nil {
		return base.with(wrap(err, "another execution is in flight for this session"))
	}

	// From here on the submission is not cancellable by the caller.
	execCtx := context.WithoutCancel(ctx)
	order := venue.Order{
		ClientID:   uuid.NewString(),
		Symbol:     sym,
		Intent:     venue.IntentOpen,
		Structure:  art.Definition.Structure,
		StrategyID: id,
		Legs:       toOrderLegs(art.Definition.Legs),
		NetDebit:   art.Definition.NetDebit,
		MaxLoss:    art.Definition.MaxLoss,
		Params:     params,
	}
	handle, err := e.venue.SubmitOrder(execCtx, order)
	if err != nil {
		return e.submitFailed(base, sym, err)
	}
	base.OrderID = handle.OrderID

	res := e.verifier.Await(execCtx, handle)
	base.Fill = &res
	if !res.Filled() {
		return e.fillFailed(base, sym, res)
	}

	consumeErr := e.cache.Consume(id)
	snap, err = e.sessions.Do(sym, func(tx *session.Tx) error {
		fields := map[string]any{
			"order_id":   handle.OrderID,
			"filled_qty": res.FilledQty.String(),
			"avg_price":  res.AvgPrice.String(),
		}
		if consumeErr != nil {
			fields["consume_error"] = consumeErr.Error()
		}
		tx.Note("fill confirmed", fields)
		return tx.Transition(session.PhaseFillsConfirmed, "order "+handle.OrderID+" filled")
	})
	base.Phase = snap.Phase
	if err != nil {
		return base.with(wrap(err, ""))
	}
	if consumeErr != nil {
		logger.Warnf("[engine] %s filled but strategy %s could not be consumed: %v", sym, id, consumeErr)
	}
	base.Code = CodeOK
	base.Message = "order filled"
	return base
}

// checkBinding fails closed when the strategy no longer belongs to the
// session generation that selected it.
func (e *Engine) checkBinding(tx *session.Tx, gen int, id string, phases ...session.Phase) error {
	if tx.Generation() != gen || tx.StrategyID() != id {
		return newError(CodeNotFound,
			fmt.Errorf("%w: %s is not the strategy selected by the current session", strategy.ErrNotFound, id),
			"compute a new strategy for the current session")
	}
	for _, p := range phases {
		if tx.Phase() == p {
			return nil
		}
	}
	remedy := ""
	if tx.Phase() == session.PhaseExecuting {
		remedy = "an execution is already in flight; wait for it to finish"
	}
	return newError(CodeIllegalTransition,
		fmt.Errorf("%w: cannot execute in %s", session.ErrIllegalTransition, tx.Phase()), remedy)
}

func (e *Engine) confirmRemedy() string {
	return fmt.Sprintf("ask the user to confirm the immediate order, then resubmit with confirm_token=%q",
		e.gate.Rules().ConfirmToken)
}

// submitFailed handles a submission error after the session entered
// EXECUTING. Anything but an outright rejection may have reached the venue.
func (e *Engine) submitFailed(base Outcome, sym string, err error) Outcome {
	switch {
	case errors.Is(err, venue.ErrRejected):
		e.fail(sym, KindVenueRejected, err.Error())
		base.Phase = session.PhaseErrored
		return base.with(newError(CodeVenueRejected, err, ""))
	case errors.Is(err, venue.ErrUnavailable):
		e.fail(sym, KindVenueUnavailable, err.Error())
		base.Phase = session.PhaseErrored
		return base.with(newError(CodeVenueUnavailable, err,
			"nothing was submitted; reset the session and retry once the venue recovers"))
	default:
		e.fail(sym, KindVenueUnknown, err.Error())
		base.Phase = session.PhaseErrored
		return base.with(newError(CodeVenueUnavailable, err,
			"the submission outcome is unknown; reconcile open orders at the venue, then reset the session"))
	}
}

func (e *Engine) fillFailed(base Outcome, sym string, res fill.Result) Outcome {
	base.Phase = session.PhaseErrored
	switch res.State {
	case fill.StateTimeout:
		e.fail(sym, KindVenueTimeout, fmt.Sprintf("order %s: %s", res.OrderID, res.Reason))
		return base.with(newError(CodeVenueTimeout,
			fmt.Errorf("order %s not confirmed within %s", res.OrderID, e.verifier.Timeout()),
			fmt.Sprintf("reconcile order %s at the venue manually, then reset the session", res.OrderID)))
	default:
		e.fail(sym, KindVenueRejected, fmt.Sprintf("order %s %s: %s filled=%s", res.OrderID, res.State, res.Reason, res.FilledQty))
		remedy := ""
		if res.FilledQty.IsPositive() {
			remedy = fmt.Sprintf("order %s was partially filled (%s) before it ended %s; reconcile the open position at the venue, then reset the session",
				res.OrderID, res.FilledQty, res.State)
		}
		return base.with(newError(CodeVenueRejected,
			fmt.Errorf("order %s ended %s: %s", res.OrderID, res.State, res.Reason), remedy))
	}
}

// fail releases any order claim and moves the session to ERRORED in one step.
func (e *Engine) fail(sym, kind, detail string) {
	_, err := e.sessions.Do(sym, func(tx *session.Tx) error {
		tx.Release()
		tx.Fail(kind, detail)
		return nil
	})
	if err != nil {
		logger.Errorf("[engine] could not record %s for %s: %v", kind, sym, err)
	}
}

func (o Outcome) with(err *Error) Outcome {
	o.Code = err.Code
	o.Message = err.Message
	o.Remedy = err.Remedy
	return o
}

func toRiskAccount(a venue.AccountState) risk.Account {
	return risk.Account{
		Equity:         a.Equity,
		AvailableFunds: a.AvailableFunds,
		OpenRisk:       a.OpenRisk,
		Currency:       a.Currency,
	}
}

func toRiskTrade(sym string, d strategy.Definition) risk.Trade {
	return risk.Trade{
		Symbol:             sym,
		Structure:          d.Structure,
		NetDebit:           d.NetDebit,
		MaxLoss:            d.MaxLoss,
		MaxProfit:          d.MaxProfit,
		MaxProfitUnlimited: d.MaxProfitUnlimited,
		HasStop:            d.Stop != nil,
	}
}

func toOrderLegs(legs []strategy.Leg) []venue.OrderLeg {
	out := make([]venue.OrderLeg, 0, len(legs))
	for _, l := range legs {
		out = append(out, venue.OrderLeg{
			Instrument: l.Instrument,
			Side:       l.Side,
			Quantity:   l.Quantity,
			LimitPrice: l.LimitPrice,
		})
	}
	return out
}

func validateParams(raw json.RawMessage) *Error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return invalid("params must be a JSON object: %v", err)
	}
	return nil
}

// mergeParams overlays request params on the strategy's own params.
func mergeParams(base, overlay json.RawMessage) (json.RawMessage, *Error) {
	merged := map[string]any{}
	for _, raw := range []json.RawMessage{base, overlay} {
		trimmed := strings.TrimSpace(string(raw))
		if trimmed == "" || trimmed == "null" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil, invalid("params must be a JSON object: %v", err)
		}
		for k, v := range obj {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, newError(CodeInternal, err, "")
	}
	return out, nil
}
