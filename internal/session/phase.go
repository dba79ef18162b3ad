package session

import "strings"

type Phase string

const (
	PhaseIdle             Phase = "IDLE"
	PhaseAnalyzing        Phase = "ANALYZING"
	PhaseStrategySelected Phase = "STRATEGY_SELECTED"
	PhaseRiskValidated    Phase = "RISK_VALIDATED"
	PhaseExecuting        Phase = "EXECUTING"
	PhaseFillsConfirmed   Phase = "FILLS_CONFIRMED"
	PhaseStopsPlaced      Phase = "STOPS_PLACED"
	PhaseMonitoring       Phase = "MONITORING"
	PhaseClosed           Phase = "CLOSED"
	PhaseErrored          Phase = "ERRORED"
)

// happyPath is the only forward order a session may take.
var happyPath = []Phase{
	PhaseIdle,
	PhaseAnalyzing,
	PhaseStrategySelected,
	PhaseRiskValidated,
	PhaseExecuting,
	PhaseFillsConfirmed,
	PhaseStopsPlaced,
	PhaseMonitoring,
	PhaseClosed,
}

var rank = func() map[Phase]int {
	out := make(map[Phase]int, len(happyPath))
	for i, p := range happyPath {
		out[p] = i
	}
	return out
}()

// Rank is the position along the happy path, or -1 for ERRORED and unknown
// values.
func (p Phase) Rank() int {
	if r, ok := rank[p]; ok {
		return r
	}
	return -1
}

func (p Phase) Valid() bool {
	return p == PhaseErrored || p.Rank() >= 0
}

func (p Phase) Terminal() bool {
	return p == PhaseClosed || p == PhaseErrored
}

// Successor returns the next phase on the happy path.
func (p Phase) Successor() (Phase, bool) {
	r := p.Rank()
	if r < 0 || r+1 >= len(happyPath) {
		return "", false
	}
	return happyPath[r+1], true
}

func ParsePhase(s string) (Phase, bool) {
	p := Phase(strings.ToUpper(strings.TrimSpace(s)))
	return p, p.Valid()
}

// CanTransition allows the immediate successor, ERRORED from any
// non-terminal phase, and IDLE from either terminal phase.
func CanTransition(from, to Phase) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	switch to {
	case PhaseErrored:
		return !from.Terminal()
	case PhaseIdle:
		if from.Terminal() {
			return true
		}
	}
	next, ok := from.Successor()
	return ok && next == to
}
