package engine

import (
	"errors"
	"fmt"

	"tradeflow/internal/analysis"
	"tradeflow/internal/fill"
	"tradeflow/internal/gate"
	"tradeflow/internal/pkg/symbol"
	"tradeflow/internal/risk"
	"tradeflow/internal/session"
	"tradeflow/internal/strategy"
	"tradeflow/internal/venue"
)

type Code string

const (
	CodeOK                   Code = "OK"
	CodeIllegalTransition    Code = "ILLEGAL_TRANSITION"
	CodeStepOutOfOrder       Code = "STEP_OUT_OF_ORDER"
	CodeNotFound             Code = "NOT_FOUND"
	CodeExpired              Code = "EXPIRED"
	CodeAlreadyConsumed      Code = "ALREADY_CONSUMED"
	CodeRiskViolation        Code = "RISK_VIOLATION"
	CodeConfirmationRequired Code = "CONFIRMATION_REQUIRED"
	CodeVenueTimeout         Code = "VENUE_TIMEOUT"
	CodeVenueRejected        Code = "VENUE_REJECTED"
	CodeVenueUnavailable     Code = "VENUE_UNAVAILABLE"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeInternal             Code = "INTERNAL"
)

// Error kinds stored on the session when it moves to ERRORED.
const (
	KindVenueTimeout     = "VenueTimeout"
	KindVenueRejected    = "VenueRejected"
	KindVenueUnavailable = "VenueUnavailable"
	KindVenueUnknown     = "VenueSubmitUnknown"
	KindInternal         = "Internal"
	KindRestart          = "Restart"
)

var defaultRemedy = map[Code]string{
	CodeIllegalTransition:    "check get_session_status for the current phase and follow the workflow order",
	CodeStepOutOfOrder:       "record the next required analysis step first",
	CodeNotFound:             "compute a new strategy; unknown and expired strategy IDs cannot be executed",
	CodeExpired:              "compute a new strategy",
	CodeAlreadyConsumed:      "this strategy was already executed; compute a new one for another trade",
	CodeRiskViolation:        "adjust the strategy so every violated rule passes, then compute it again",
	CodeConfirmationRequired: "obtain explicit user confirmation and resubmit with the confirmation token",
	CodeVenueTimeout:         "reconcile the order at the venue manually, then reset the session",
	CodeVenueRejected:        "review the venue rejection, reset the session and start a new analysis",
	CodeVenueUnavailable:     "wait for the venue to recover and retry",
	CodeInvalidInput:         "fix the request fields and retry",
	CodeInternal:             "reset the session and retry; see server logs",
}

// Error is a failed operation with a stable code and a caller-facing remedy.
type Error struct {
	Code    Code
	Message string
	Remedy  string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code Code, err error, remedy string) *Error {
	if remedy == "" {
		remedy = defaultRemedy[code]
	}
	msg := string(code)
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: code, Message: msg, Remedy: remedy, Err: err}
}

// wrap maps a package sentinel to its outcome code.
func wrap(err error, remedy string) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(codeOf(err), err, remedy)
}

func codeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, session.ErrIllegalTransition), errors.Is(err, session.ErrBusy):
		return CodeIllegalTransition
	case errors.Is(err, session.ErrNotFound), errors.Is(err, strategy.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, analysis.ErrStepOutOfOrder), errors.Is(err, analysis.ErrPipelineDone):
		return CodeStepOutOfOrder
	case errors.Is(err, analysis.ErrUnknownStep),
		errors.Is(err, analysis.ErrInvalidStepData),
		errors.Is(err, symbol.ErrInvalid),
		errors.Is(err, strategy.ErrInvalidDefinition),
		errors.Is(err, errInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, strategy.ErrExpired):
		return CodeExpired
	case errors.Is(err, strategy.ErrAlreadyConsumed):
		return CodeAlreadyConsumed
	case errors.Is(err, gate.ErrConfirmationRequired):
		return CodeConfirmationRequired
	case errors.Is(err, venue.ErrRejected):
		return CodeVenueRejected
	case errors.Is(err, venue.ErrUnavailable):
		return CodeVenueUnavailable
	default:
		return CodeInternal
	}
}

var errInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) *Error {
	return newError(CodeInvalidInput, fmt.Errorf("%w: "+format, append([]any{errInvalidInput}, args...)...), "")
}

// Outcome is the result of an execution request. Blocked and failed outcomes
// carry the reason and what the caller must supply next.
type Outcome struct {
	Code           Code          `json:"code"`
	Message        string        `json:"message"`
	Remedy         string        `json:"remedy,omitempty"`
	Symbol         string        `json:"symbol,omitempty"`
	Phase          session.Phase `json:"phase,omitempty"`
	StrategyID     string        `json:"strategy_id,omitempty"`
	OrderID        string        `json:"order_id,omitempty"`
	Classification string        `json:"classification,omitempty"`
	Verdict        *risk.Verdict `json:"verdict,omitempty"`
	Fill           *fill.Result  `json:"fill,omitempty"`
}

func (o Outcome) OK() bool { return o.Code == CodeOK }

func failed(e *Error) Outcome {
	return Outcome{Code: e.Code, Message: e.Message, Remedy: e.Remedy}
}
