package venue

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	IntentOpen    = "open"
	IntentProtect = "protect"
	IntentClose   = "close"
)

// ContextData is the market snapshot recorded as the first analysis step.
type ContextData struct {
	Symbol    string          `json:"symbol"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Fields    map[string]any  `json:"fields,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type OrderLeg struct {
	Instrument string          `json:"instrument"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
}

type Order struct {
	ClientID   string          `json:"client_id"`
	Symbol     string          `json:"symbol"`
	Intent     string          `json:"intent"`
	Structure  string          `json:"structure,omitempty"`
	StrategyID string          `json:"strategy_id,omitempty"`
	Legs       []OrderLeg      `json:"legs"`
	NetDebit   decimal.Decimal `json:"net_debit"`
	MaxLoss    decimal.Decimal `json:"max_loss"`
	Params     json.RawMessage `json:"params,omitempty"`
}

type OrderHandle struct {
	OrderID     string    `json:"order_id"`
	ClientID    string    `json:"client_id"`
	Symbol      string    `json:"symbol"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

type StatusEvent struct {
	OrderID      string          `json:"order_id"`
	Status       OrderStatus     `json:"status"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	Reason       string          `json:"reason,omitempty"`
	At           time.Time       `json:"at"`
}

type Position struct {
	Symbol    string          `json:"symbol"`
	Structure string          `json:"structure"`
	MaxLoss   decimal.Decimal `json:"max_loss"`
	OpenedAt  time.Time       `json:"opened_at"`
}

// AccountState is read live for every risk evaluation.
type AccountState struct {
	Currency       string          `json:"currency"`
	Equity         decimal.Decimal `json:"equity"`
	AvailableFunds decimal.Decimal `json:"available_funds"`
	OpenRisk       decimal.Decimal `json:"open_risk"`
	Positions      []Position      `json:"positions,omitempty"`
	AsOf           time.Time       `json:"as_of"`
}
