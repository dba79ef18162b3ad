// Package engine sequences the trading workflow: analysis, strategy
// selection, risk validation, the confirmation gate, submission and fill
// verification. Every operation is safe to call concurrently; sessions for
// different symbols never block each other and no lock is held across a
// venue call.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"tradeflow/internal/analysis"
	"tradeflow/internal/fill"
	"tradeflow/internal/gate"
	"tradeflow/internal/logger"
	"tradeflow/internal/metrics"
	"tradeflow/internal/risk"
	"tradeflow/internal/session"
	"tradeflow/internal/strategy"
	"tradeflow/internal/venue"
)

type Deps struct {
	Sessions *session.Registry
	Cache    *strategy.Cache
	Pipeline *analysis.Pipeline
	Pricer   strategy.Pricer
	Venue    venue.Venue
	Gate     *gate.Gate
	Verifier *fill.Verifier
	Policy   risk.Policy
	Now      func() time.Time
}

type Engine struct {
	sessions *session.Registry
	cache    *strategy.Cache
	pipeline *analysis.Pipeline
	pricer   strategy.Pricer
	venue    venue.Venue
	gate     *gate.Gate
	verifier *fill.Verifier
	policy   atomic.Pointer[risk.Policy]
	now      func() time.Time
}

func New(d Deps) (*Engine, error) {
	switch {
	case d.Sessions == nil:
		return nil, fmt.Errorf("engine: session registry is required")
	case d.Cache == nil:
		return nil, fmt.Errorf("engine: strategy cache is required")
	case d.Pipeline == nil:
		return nil, fmt.Errorf("engine: analysis pipeline is required")
	case d.Venue == nil:
		return nil, fmt.Errorf("engine: venue is required")
	case d.Gate == nil:
		return nil, fmt.Errorf("engine: execution gate is required")
	case d.Verifier == nil:
		return nil, fmt.Errorf("engine: fill verifier is required")
	}
	if err := d.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("engine: risk policy: %w", err)
	}
	if d.Pricer == nil {
		d.Pricer = strategy.DeclaredPricer{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	e := &Engine{
		sessions: d.Sessions,
		cache:    d.Cache,
		pipeline: d.Pipeline,
		pricer:   d.Pricer,
		venue:    d.Venue,
		gate:     d.Gate,
		verifier: d.Verifier,
		now:      d.Now,
	}
	policy := d.Policy
	e.policy.Store(&policy)
	return e, nil
}

// UpdatePolicy swaps the risk policy for evaluations that start afterwards.
func (e *Engine) UpdatePolicy(p risk.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.policy.Store(&p)
	logger.Infof("[engine] risk policy updated: position=%s portfolio=%s rr=%s",
		p.MaxPositionPct, p.MaxPortfolioPct, p.MinRiskReward)
	return nil
}

func (e *Engine) Policy() risk.Policy {
	return *e.policy.Load()
}

// UpdateGateRules forwards hot-reloaded gate rules.
func (e *Engine) UpdateGateRules(r gate.Rules) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.gate.Update(r)
	return nil
}

// recoverOp turns a panic inside an operation into an INTERNAL error and
// moves the affected session to ERRORED.
func (e *Engine) recoverOp(op, symbol string, out *error) {
	r := recover()
	if r == nil {
		return
	}
	logger.Errorf("[engine] panic in %s for %s: %v\n%s", op, symbol, r, debug.Stack())
	if symbol != "" {
		e.sessions.RecordError(symbol, KindInternal, fmt.Sprintf("internal fault during %s", op))
	}
	*out = newError(CodeInternal, fmt.Errorf("internal fault during %s", op), "")
}

func (e *Engine) finish(op string, err error) error {
	if err == nil {
		metrics.Outcome(op, string(CodeOK))
		return nil
	}
	w := wrap(err, "")
	metrics.Outcome(op, string(w.Code))
	return w
}

func (e *Engine) contextFetch(ctx context.Context, sym string) ([]byte, error) {
	data, err := e.venue.FetchContext(ctx, sym)
	if err != nil {
		return nil, err
	}
	return marshalContext(data)
}
