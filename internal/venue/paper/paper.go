// Package paper is an in-memory venue that simulates fills with
// configurable delay and failure modes.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradeflow/internal/logger"
	"tradeflow/internal/venue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Mode string

const (
	// ModeFill fills every order after FillDelay.
	ModeFill Mode = "fill"
	// ModePartial reports a partial fill before the full fill.
	ModePartial Mode = "partial"
	// ModeReject refuses orders at submission.
	ModeReject Mode = "reject"
	// ModeCancel acknowledges then cancels.
	ModeCancel Mode = "cancel"
	// ModeSilent acknowledges and never reports again.
	ModeSilent Mode = "silent"
)

func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeFill, ModePartial, ModeReject, ModeCancel, ModeSilent:
		return m, nil
	case "":
		return ModeFill, nil
	default:
		return "", fmt.Errorf("unknown paper mode %q", s)
	}
}

type Config struct {
	Currency       string
	Equity         decimal.Decimal
	AvailableFunds decimal.Decimal
	DefaultPrice   decimal.Decimal
	Prices         map[string]decimal.Decimal
	FillDelay      time.Duration
	Mode           Mode
}

const subscriberBuffer = 8

type order struct {
	handle venue.OrderHandle
	req    venue.Order
	events []venue.StatusEvent
	subs   []chan venue.StatusEvent
	done   bool
}

// Venue is safe for concurrent use.
type Venue struct {
	mu        sync.Mutex
	cfg       Config
	mode      Mode
	equity    decimal.Decimal
	available decimal.Decimal
	positions map[string]venue.Position
	orders    map[string]*order
	now       func() time.Time
	timers    []*time.Timer
}

func New(cfg Config) *Venue {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.DefaultPrice.IsZero() {
		cfg.DefaultPrice = decimal.NewFromInt(100)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFill
	}
	return &Venue{
		cfg:       cfg,
		mode:      cfg.Mode,
		equity:    cfg.Equity,
		available: cfg.AvailableFunds,
		positions: make(map[string]venue.Position),
		orders:    make(map[string]*order),
		now:       time.Now,
	}
}

// SetMode changes behaviour for orders submitted afterwards.
func (v *Venue) SetMode(m Mode) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mode = m
}

func (v *Venue) SetFillDelay(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cfg.FillDelay = d
}

// OrderCount is the number of orders accepted so far.
func (v *Venue) OrderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.orders)
}

// Close stops pending simulated fills.
func (v *Venue) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range v.timers {
		t.Stop()
	}
	v.timers = nil
}

func (v *Venue) FetchContext(ctx context.Context, symbol string) (venue.ContextData, error) {
	if err := ctx.Err(); err != nil {
		return venue.ContextData{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	last := v.priceLocked(symbol)
	spread := last.Mul(decimal.RequireFromString("0.0005"))
	return venue.ContextData{
		Symbol:    symbol,
		Last:      last,
		Bid:       last.Sub(spread),
		Ask:       last.Add(spread),
		Fields:    map[string]any{"source": "paper", "open_positions": len(v.positions)},
		FetchedAt: v.now(),
	}, nil
}

func (v *Venue) GetAccountState(ctx context.Context) (venue.AccountState, error) {
	if err := ctx.Err(); err != nil {
		return venue.AccountState{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	state := venue.AccountState{
		Currency:       v.cfg.Currency,
		Equity:         v.equity,
		AvailableFunds: v.available,
		OpenRisk:       decimal.Zero,
		AsOf:           v.now(),
	}
	for _, p := range v.positions {
		state.OpenRisk = state.OpenRisk.Add(p.MaxLoss)
		state.Positions = append(state.Positions, p)
	}
	return state, nil
}

func (v *Venue) SubmitOrder(ctx context.Context, req venue.Order) (venue.OrderHandle, error) {
	if err := ctx.Err(); err != nil {
		return venue.OrderHandle{}, err
	}
	if len(req.Legs) == 0 {
		return venue.OrderHandle{}, fmt.Errorf("%w: order has no legs", venue.ErrRejected)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.mode == ModeReject {
		logger.Infof("[paper] rejecting %s %s", req.Intent, req.Symbol)
		return venue.OrderHandle{}, fmt.Errorf("%w: paper venue in reject mode", venue.ErrRejected)
	}
	if req.Intent == venue.IntentOpen && req.NetDebit.GreaterThan(v.available) {
		return venue.OrderHandle{}, fmt.Errorf("%w: insufficient funds", venue.ErrRejected)
	}
	now := v.now()
	h := venue.OrderHandle{
		OrderID:     uuid.NewString(),
		ClientID:    req.ClientID,
		Symbol:      req.Symbol,
		SubmittedAt: now,
	}
	o := &order{handle: h, req: req}
	v.orders[h.OrderID] = o
	qty := totalQty(req.Legs)
	v.publishLocked(o, venue.StatusEvent{Status: venue.StatusSubmitted, RemainingQty: qty})

	mode := v.mode
	delay := v.cfg.FillDelay
	switch mode {
	case ModeSilent:
	case ModeCancel:
		v.afterLocked(delay, func() {
			v.emit(h.OrderID, venue.StatusEvent{Status: venue.StatusCancelled, RemainingQty: qty, Reason: "cancelled by paper venue"})
		})
	case ModePartial:
		half := qty.Div(decimal.NewFromInt(2)).Floor()
		v.afterLocked(delay/2, func() {
			v.emit(h.OrderID, venue.StatusEvent{Status: venue.StatusPartiallyFilled, FilledQty: half, RemainingQty: qty.Sub(half)})
		})
		v.afterLocked(delay, func() { v.fill(h.OrderID) })
	default:
		v.afterLocked(delay, func() { v.fill(h.OrderID) })
	}
	logger.Infof("[paper] accepted %s %s order=%s mode=%s", req.Intent, req.Symbol, h.OrderID, mode)
	return h, nil
}

func (v *Venue) SubscribeStatus(ctx context.Context, h venue.OrderHandle) (<-chan venue.StatusEvent, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[h.OrderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", h.OrderID)
	}
	ch := make(chan venue.StatusEvent, subscriberBuffer)
	for _, evt := range o.events {
		ch <- evt
	}
	if o.done {
		close(ch)
		return ch, nil
	}
	o.subs = append(o.subs, ch)
	go func() {
		<-ctx.Done()
		v.unsubscribe(h.OrderID, ch)
	}()
	return ch, nil
}

func (v *Venue) unsubscribe(orderID string, ch chan venue.StatusEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok {
		return
	}
	for i, sub := range o.subs {
		if sub == ch {
			o.subs = append(o.subs[:i], o.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (v *Venue) fill(orderID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok || o.done {
		return
	}
	qty := totalQty(o.req.Legs)
	price := v.priceLocked(o.req.Symbol)
	switch o.req.Intent {
	case venue.IntentOpen:
		v.available = v.available.Sub(o.req.NetDebit)
		v.positions[o.req.Symbol] = venue.Position{
			Symbol:    o.req.Symbol,
			Structure: o.req.Structure,
			MaxLoss:   o.req.MaxLoss,
			OpenedAt:  v.now(),
		}
	case venue.IntentClose:
		if p, ok := v.positions[o.req.Symbol]; ok {
			v.available = v.available.Add(p.MaxLoss)
			delete(v.positions, o.req.Symbol)
		}
	}
	v.publishLocked(o, venue.StatusEvent{Status: venue.StatusFilled, FilledQty: qty, AvgPrice: price})
}

func (v *Venue) emit(orderID string, evt venue.StatusEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if o, ok := v.orders[orderID]; ok && !o.done {
		v.publishLocked(o, evt)
	}
}

func (v *Venue) publishLocked(o *order, evt venue.StatusEvent) {
	evt.OrderID = o.handle.OrderID
	if evt.At.IsZero() {
		evt.At = v.now()
	}
	o.events = append(o.events, evt)
	for _, ch := range o.subs {
		select {
		case ch <- evt:
		default:
			logger.Warnf("[paper] subscriber for %s is full, dropping %s", o.handle.OrderID, evt.Status)
		}
	}
	if evt.Status.Terminal() {
		o.done = true
		for _, ch := range o.subs {
			close(ch)
		}
		o.subs = nil
	}
}

func (v *Venue) afterLocked(d time.Duration, fn func()) {
	v.timers = append(v.timers, time.AfterFunc(d, fn))
}

func (v *Venue) priceLocked(symbol string) decimal.Decimal {
	if p, ok := v.cfg.Prices[symbol]; ok && p.IsPositive() {
		return p
	}
	return v.cfg.DefaultPrice
}

func totalQty(legs []venue.OrderLeg) decimal.Decimal {
	total := decimal.Zero
	for _, l := range legs {
		total = total.Add(l.Quantity)
	}
	return total
}
