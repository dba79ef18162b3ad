package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidDefinition = errors.New("invalid strategy definition")

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Leg is one instrument of a multi-leg structure.
type Leg struct {
	Instrument string          `json:"instrument"`
	Kind       string          `json:"kind,omitempty"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Right      string          `json:"right,omitempty"`
	Strike     decimal.Decimal `json:"strike,omitempty"`
	Expiry     string          `json:"expiry,omitempty"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
}

// StopPlan is the protective order to place once entry fills.
type StopPlan struct {
	StopPrice        decimal.Decimal `json:"stop_price"`
	TriggerCondition string          `json:"trigger_condition,omitempty"`
	OrderType        string          `json:"order_type,omitempty"`
}

// Definition is what a strategy artifact executes. Figures are in the
// account base currency; NetDebit is negative for credit structures.
type Definition struct {
	Structure          string          `json:"structure"`
	Legs               []Leg           `json:"legs"`
	NetDebit           decimal.Decimal `json:"net_debit"`
	MaxLoss            decimal.Decimal `json:"max_loss"`
	MaxProfit          decimal.Decimal `json:"max_profit"`
	MaxProfitUnlimited bool            `json:"max_profit_unlimited,omitempty"`
	Stop               *StopPlan       `json:"stop,omitempty"`
	// Params carries venue order parameters such as order_type or
	// trigger_price; the execution gate classifies on them.
	Params json.RawMessage `json:"params,omitempty"`
}

// IsCredit reports whether opening the structure receives premium.
func (d Definition) IsCredit() bool {
	return d.NetDebit.IsNegative()
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Structure) == "" {
		return fmt.Errorf("%w: structure is required", ErrInvalidDefinition)
	}
	if len(d.Legs) == 0 {
		return fmt.Errorf("%w: at least one leg is required", ErrInvalidDefinition)
	}
	for i, leg := range d.Legs {
		if strings.TrimSpace(leg.Instrument) == "" {
			return fmt.Errorf("%w: leg %d instrument is required", ErrInvalidDefinition, i)
		}
		switch leg.Side {
		case SideBuy, SideSell:
		default:
			return fmt.Errorf("%w: leg %d side must be buy or sell, got %q", ErrInvalidDefinition, i, leg.Side)
		}
		if !leg.Quantity.IsPositive() {
			return fmt.Errorf("%w: leg %d quantity must be positive", ErrInvalidDefinition, i)
		}
		if leg.Strike.IsNegative() || leg.LimitPrice.IsNegative() {
			return fmt.Errorf("%w: leg %d prices cannot be negative", ErrInvalidDefinition, i)
		}
	}
	if !d.MaxLoss.IsPositive() {
		return fmt.Errorf("%w: max_loss must be positive", ErrInvalidDefinition)
	}
	if d.MaxProfit.IsNegative() {
		return fmt.Errorf("%w: max_profit cannot be negative", ErrInvalidDefinition)
	}
	if d.Stop != nil && !d.Stop.StopPrice.IsPositive() {
		return fmt.Errorf("%w: stop_price must be positive", ErrInvalidDefinition)
	}
	if len(d.Params) > 0 {
		trimmed := strings.TrimSpace(string(d.Params))
		if !json.Valid(d.Params) || !strings.HasPrefix(trimmed, "{") {
			return fmt.Errorf("%w: params must be a JSON object", ErrInvalidDefinition)
		}
	}
	return nil
}

// Normalize lower-cases enumerations so policy lookups are exact.
func (d Definition) Normalize() Definition {
	out := d
	out.Structure = strings.ToLower(strings.TrimSpace(d.Structure))
	out.Legs = make([]Leg, len(d.Legs))
	for i, leg := range d.Legs {
		leg.Instrument = strings.ToUpper(strings.TrimSpace(leg.Instrument))
		leg.Kind = strings.ToLower(strings.TrimSpace(leg.Kind))
		leg.Side = strings.ToLower(strings.TrimSpace(leg.Side))
		leg.Right = strings.ToLower(strings.TrimSpace(leg.Right))
		out.Legs[i] = leg
	}
	if d.Stop != nil {
		stop := *d.Stop
		out.Stop = &stop
	}
	if len(d.Params) > 0 {
		out.Params = append(json.RawMessage(nil), d.Params...)
	}
	return out
}
