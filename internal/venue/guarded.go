package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeflow/internal/pkg/circuit"

	"golang.org/x/sync/singleflight"
)

// CallObserver sees every venue call with its latency.
type CallObserver func(op string, err error, elapsed time.Duration)

// Guarded wraps a venue with a circuit breaker and coalesces concurrent
// account reads into one in-flight call.
type Guarded struct {
	inner   Venue
	breaker *circuit.Breaker
	group   singleflight.Group
	observe CallObserver
}

func NewGuarded(inner Venue, breaker *circuit.Breaker, observe CallObserver) *Guarded {
	return &Guarded{inner: inner, breaker: breaker, observe: observe}
}

func (g *Guarded) Breaker() *circuit.Breaker { return g.breaker }

func (g *Guarded) FetchContext(ctx context.Context, symbol string) (ContextData, error) {
	var out ContextData
	err := g.call(ctx, "fetch_context", func() error {
		var err error
		out, err = g.inner.FetchContext(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Guarded) SubmitOrder(ctx context.Context, order Order) (OrderHandle, error) {
	var out OrderHandle
	err := g.call(ctx, "submit_order", func() error {
		var err error
		out, err = g.inner.SubmitOrder(ctx, order)
		return err
	})
	return out, err
}

func (g *Guarded) SubscribeStatus(ctx context.Context, handle OrderHandle) (<-chan StatusEvent, error) {
	var out <-chan StatusEvent
	err := g.call(ctx, "subscribe_status", func() error {
		var err error
		out, err = g.inner.SubscribeStatus(ctx, handle)
		return err
	})
	return out, err
}

func (g *Guarded) GetAccountState(ctx context.Context) (AccountState, error) {
	v, err, _ := g.group.Do("account", func() (any, error) {
		var state AccountState
		err := g.call(ctx, "get_account_state", func() error {
			var err error
			state, err = g.inner.GetAccountState(ctx)
			return err
		})
		return state, err
	})
	if err != nil {
		return AccountState{}, err
	}
	return v.(AccountState), nil
}

func (g *Guarded) call(ctx context.Context, op string, fn func() error) error {
	if g.breaker != nil && !g.breaker.Allow() {
		err := fmt.Errorf("%w: %s", ErrUnavailable, circuit.ErrOpen)
		g.report(op, err, 0)
		return err
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	g.report(op, err, elapsed)
	if g.breaker == nil {
		return err
	}
	switch {
	case err == nil, errors.Is(err, ErrRejected):
		g.breaker.RecordSuccess()
	case ctx.Err() != nil && g.breaker.State() != circuit.StateHalfOpen:
		// the caller gave up; says nothing about venue health
	default:
		g.breaker.RecordFailure()
	}
	return err
}

func (g *Guarded) report(op string, err error, elapsed time.Duration) {
	if g.observe != nil {
		g.observe(op, err, elapsed)
	}
}
