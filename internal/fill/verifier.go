package fill

import (
	"context"
	"time"

	"tradeflow/internal/logger"
	"tradeflow/internal/venue"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultTimeout = 30 * time.Second

type State string

const (
	StateSubmitted       State = "SUBMITTED"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StateCancelled       State = "CANCELLED"
	StateRejected        State = "REJECTED"
	StateTimeout         State = "TIMEOUT"
)

func fromStatus(s venue.OrderStatus) State {
	switch s {
	case venue.StatusPartiallyFilled:
		return StatePartiallyFilled
	case venue.StatusFilled:
		return StateFilled
	case venue.StatusCancelled:
		return StateCancelled
	case venue.StatusRejected:
		return StateRejected
	default:
		return StateSubmitted
	}
}

// Result is the last known state of a submitted order when the wait ended.
type Result struct {
	OrderID   string          `json:"order_id"`
	State     State           `json:"state"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	Reason    string          `json:"reason,omitempty"`
	Events    int             `json:"events"`
	Elapsed   time.Duration   `json:"elapsed"`
}

func (r Result) Filled() bool { return r.State == StateFilled }

// Subscriber is the slice of the venue the verifier needs.
type Subscriber interface {
	SubscribeStatus(ctx context.Context, handle venue.OrderHandle) (<-chan venue.StatusEvent, error)
}

// Verifier waits for a terminal order status pushed by the venue, bounded
// by a hard timeout.
type Verifier struct {
	sub      Subscriber
	timeout  time.Duration
	onResult func(Result)
}

type Option func(*Verifier)

func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

func WithResultHook(fn func(Result)) Option {
	return func(v *Verifier) { v.onResult = fn }
}

func NewVerifier(sub Subscriber, opts ...Option) *Verifier {
	v := &Verifier{sub: sub, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Timeout() time.Duration { return v.timeout }

// Await returns FILLED, CANCELLED or REJECTED as reported by the venue, or
// TIMEOUT when nothing terminal arrives within the bound. A PARTIALLY_FILLED
// order that stalls also ends as TIMEOUT.
func (v *Verifier) Await(ctx context.Context, handle venue.OrderHandle) Result {
	ctx, span := otel.Tracer("tradeflow/fill").Start(ctx, "fill.await")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", handle.OrderID),
		attribute.String("order.symbol", handle.Symbol),
	)

	start := time.Now()
	res := v.await(ctx, handle)
	res.Elapsed = time.Since(start)

	span.SetAttributes(attribute.String("fill.state", string(res.State)))
	if !res.Filled() {
		span.SetStatus(codes.Error, string(res.State))
	}
	logger.Infof("[fill] %s order=%s state=%s filled=%s elapsed=%s %s",
		handle.Symbol, handle.OrderID, res.State, res.FilledQty, res.Elapsed.Round(time.Millisecond), res.Reason)
	if v.onResult != nil {
		v.onResult(res)
	}
	return res
}

func (v *Verifier) await(ctx context.Context, handle venue.OrderHandle) Result {
	res := Result{OrderID: handle.OrderID, State: StateSubmitted}
	waitCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	events, err := v.sub.SubscribeStatus(waitCtx, handle)
	if err != nil {
		res.State = StateTimeout
		res.Reason = "status subscription failed: " + err.Error()
		return res
	}
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				if waitCtx.Err() != nil {
					return timedOut(res, v.timeout)
				}
				res.State = StateTimeout
				res.Reason = "status stream ended without a terminal status"
				return res
			}
			res.Events++
			res.State = fromStatus(evt.Status)
			if !evt.FilledQty.IsZero() {
				res.FilledQty = evt.FilledQty
			}
			if !evt.AvgPrice.IsZero() {
				res.AvgPrice = evt.AvgPrice
			}
			if evt.Reason != "" {
				res.Reason = evt.Reason
			}
			if evt.Status.Terminal() {
				return res
			}
		case <-waitCtx.Done():
			return timedOut(res, v.timeout)
		}
	}
}

func timedOut(res Result, bound time.Duration) Result {
	last := res.State
	res.State = StateTimeout
	res.Reason = "no terminal status within " + bound.String() + ", last seen " + string(last)
	return res
}
