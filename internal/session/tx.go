package session

import (
	"fmt"

	"tradeflow/internal/analysis"
	"tradeflow/internal/logger"
)

// Tx exposes a session while its lock is held. It is only valid inside the
// callback passed to Registry.Do.
type Tx struct {
	r *Registry
	s *state
}

func (tx *Tx) Symbol() string     { return tx.s.symbol }
func (tx *Tx) Phase() Phase       { return tx.s.phase }
func (tx *Tx) Generation() int    { return tx.s.generation }
func (tx *Tx) StrategyID() string { return tx.s.strategyID }

// Checklist is the live checklist; mutations are visible to later callers.
func (tx *Tx) Checklist() *analysis.Checklist { return tx.s.checklist }

func (tx *Tx) SetStrategyID(id string) {
	tx.s.strategyID = id
}

// Claim marks an order in flight so a second submission on the same session
// is refused until Release.
func (tx *Tx) Claim(label string) error {
	if tx.s.inFlight != "" {
		return fmt.Errorf("%w: %s", ErrBusy, tx.s.inFlight)
	}
	tx.s.inFlight = label
	return nil
}

func (tx *Tx) Release() {
	tx.s.inFlight = ""
}

func (tx *Tx) InFlight() string { return tx.s.inFlight }

// Transition moves the session and appends the audit entry. Entering IDLE
// drops the checklist and selected strategy and starts a new generation.
func (tx *Tx) Transition(to Phase, note string) error {
	from := tx.s.phase
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	now := tx.r.now()
	tx.s.phase = to
	tx.s.lastTransitionAt = now
	tx.r.appendLocked(tx.s, AuditEntry{
		Kind: AuditTransition,
		At:   now,
		From: from,
		To:   to,
		Note: note,
	})
	logger.Infof("[session] %s %s -> %s %s", tx.s.symbol, from, to, note)
	if to == PhaseIdle {
		tx.s.generation++
		tx.s.checklist = analysis.NewChecklist()
		tx.s.strategyID = ""
	}
	if tx.r.onTransition != nil {
		tx.r.onTransition(tx.s.symbol, from, to)
	}
	return nil
}

// Note appends a non-transition audit entry such as a risk verdict or a gate
// attempt.
func (tx *Tx) Note(note string, fields map[string]any) {
	tx.r.appendLocked(tx.s, AuditEntry{
		Kind:   AuditNote,
		From:   tx.s.phase,
		To:     tx.s.phase,
		Note:   note,
		Fields: copyFields(fields),
	})
}

// Fail records the error and moves to ERRORED unless already terminal.
func (tx *Tx) Fail(kind, detail string) {
	now := tx.r.now()
	tx.s.errors = append(tx.s.errors, ErrorRecord{
		At:     now,
		Phase:  tx.s.phase,
		Kind:   kind,
		Detail: detail,
	})
	tx.r.appendLocked(tx.s, AuditEntry{
		Kind:   AuditError,
		At:     now,
		From:   tx.s.phase,
		To:     tx.s.phase,
		Note:   detail,
		Fields: map[string]any{"error_kind": kind},
	})
	logger.Warnf("[session] %s error %s: %s", tx.s.symbol, kind, detail)
	if tx.s.phase.Terminal() {
		return
	}
	_ = tx.Transition(PhaseErrored, kind)
}

// Reset returns a terminal session to IDLE with a fresh checklist and a new
// generation.
func (tx *Tx) Reset(note string) error {
	if !tx.s.phase.Terminal() {
		return fmt.Errorf("%w: reset requires ERRORED or CLOSED, session is %s", ErrIllegalTransition, tx.s.phase)
	}
	return tx.Transition(PhaseIdle, note)
}

func copyFields(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
