package session

import (
	"errors"
	"time"
)

var (
	ErrIllegalTransition = errors.New("illegal phase transition")
	ErrNotFound          = errors.New("session not found")
	ErrBusy              = errors.New("session has an order in flight")
)

const (
	AuditTransition = "transition"
	AuditNote       = "note"
	AuditError      = "error"
)

// AuditEntry is one immutable line of a session's history.
type AuditEntry struct {
	Seq        uint64         `json:"seq"`
	SessionID  string         `json:"session_id"`
	Symbol     string         `json:"symbol"`
	Generation int            `json:"generation"`
	Kind       string         `json:"kind"`
	At         time.Time      `json:"at"`
	From       Phase          `json:"from,omitempty"`
	To         Phase          `json:"to,omitempty"`
	Note       string         `json:"note,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

type ErrorRecord struct {
	At     time.Time `json:"at"`
	Phase  Phase     `json:"phase"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
}

// AuditSink receives every audit entry in log order. Appends are best
// effort; a failing sink never blocks the workflow.
type AuditSink interface {
	Append(entry AuditEntry) error
}

type AuditSinkFunc func(entry AuditEntry) error

func (f AuditSinkFunc) Append(entry AuditEntry) error { return f(entry) }

// Snapshot is a read-only copy of a session taken under its lock.
type Snapshot struct {
	ID               string               `json:"id"`
	Symbol           string               `json:"symbol"`
	Phase            Phase                `json:"phase"`
	Generation       int                  `json:"generation"`
	CreatedAt        time.Time            `json:"created_at"`
	LastTransitionAt time.Time            `json:"last_transition_at"`
	StrategyID       string               `json:"strategy_id,omitempty"`
	InFlight         string               `json:"in_flight,omitempty"`
	Checklist        map[string]time.Time `json:"checklist"`
	Audit            []AuditEntry         `json:"audit"`
	AuditTotal       int                  `json:"audit_total"`
	Errors           []ErrorRecord        `json:"errors,omitempty"`
}

// LastError returns the most recent error record, if any.
func (s Snapshot) LastError() (ErrorRecord, bool) {
	if len(s.Errors) == 0 {
		return ErrorRecord{}, false
	}
	return s.Errors[len(s.Errors)-1], true
}

type Summary struct {
	Symbol           string    `json:"symbol"`
	Phase            Phase     `json:"phase"`
	Generation       int       `json:"generation"`
	StrategyID       string    `json:"strategy_id,omitempty"`
	LastTransitionAt time.Time `json:"last_transition_at"`
	ErrorCount       int       `json:"error_count"`
}
