package engine

import (
	"context"
	"encoding/json"
	"time"

	"tradeflow/internal/session"
	"tradeflow/internal/venue"
)

type StepStatus struct {
	Name        string    `json:"name"`
	Completed   bool      `json:"completed"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

type StrategyStatus struct {
	ID        string    `json:"id"`
	Structure string    `json:"structure"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// Status is what callers see of a session.
type Status struct {
	Symbol           string                `json:"symbol"`
	SessionID        string                `json:"session_id"`
	Phase            session.Phase         `json:"phase"`
	Generation       int                   `json:"generation"`
	CreatedAt        time.Time             `json:"created_at"`
	LastTransitionAt time.Time             `json:"last_transition_at"`
	Steps            []StepStatus          `json:"steps"`
	NextStep         string                `json:"next_step,omitempty"`
	AnalysisComplete bool                  `json:"analysis_complete"`
	Strategy         *StrategyStatus       `json:"strategy,omitempty"`
	InFlight         string                `json:"in_flight,omitempty"`
	Audit            []session.AuditEntry  `json:"audit"`
	AuditTotal       int                   `json:"audit_total"`
	Errors           []session.ErrorRecord `json:"errors,omitempty"`
}

func (e *Engine) status(snap session.Snapshot) Status {
	st := Status{
		Symbol:           snap.Symbol,
		SessionID:        snap.ID,
		Phase:            snap.Phase,
		Generation:       snap.Generation,
		CreatedAt:        snap.CreatedAt,
		LastTransitionAt: snap.LastTransitionAt,
		InFlight:         snap.InFlight,
		Audit:            snap.Audit,
		AuditTotal:       snap.AuditTotal,
		Errors:           snap.Errors,
		AnalysisComplete: true,
	}
	for _, name := range e.pipeline.Steps() {
		at, done := snap.Checklist[name]
		st.Steps = append(st.Steps, StepStatus{Name: name, Completed: done, CompletedAt: at})
		if !done {
			st.AnalysisComplete = false
			if st.NextStep == "" {
				st.NextStep = name
			}
		}
	}
	if snap.StrategyID != "" {
		if art, err := e.cache.Get(snap.StrategyID); err == nil {
			st.Strategy = &StrategyStatus{
				ID:        art.ID,
				Structure: art.Definition.Structure,
				ExpiresAt: art.ExpiresAt,
				Consumed:  art.Consumed,
			}
		}
	}
	return st
}

// GetSessionStatus reports the session for symbol.
func (e *Engine) GetSessionStatus(_ context.Context, symbol string) (out Status, err error) {
	defer e.recoverOp("get_session_status", "", &err)
	snap, err := e.sessions.Get(symbol)
	if err != nil {
		return Status{}, e.finish("get_session_status", err)
	}
	return e.status(snap), nil
}

// ListSessions summarizes every live session.
func (e *Engine) ListSessions(context.Context) []session.Summary {
	return e.sessions.List()
}

// History returns the full audit log of a session.
func (e *Engine) History(_ context.Context, symbol string) ([]session.AuditEntry, error) {
	entries, err := e.sessions.History(symbol)
	if err != nil {
		return nil, wrap(err, "")
	}
	return entries, nil
}

func marshalContext(data venue.ContextData) ([]byte, error) {
	return json.Marshal(data)
}
