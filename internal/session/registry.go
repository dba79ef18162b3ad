package session

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tradeflow/internal/analysis"
	"tradeflow/internal/logger"
	"tradeflow/internal/pkg/symbol"

	"github.com/google/uuid"
)

const defaultAuditExcerpt = 20

type state struct {
	mu sync.Mutex

	id               string
	symbol           string
	phase            Phase
	generation       int
	createdAt        time.Time
	lastTransitionAt time.Time
	strategyID       string
	inFlight         string
	evicted          bool
	checklist        *analysis.Checklist
	audit            []AuditEntry
	errors           []ErrorRecord
}

// Registry owns one live session per symbol. The map is guarded by its own
// RWMutex and each session by its own mutex, so different symbols never
// contend on anything but map lookups.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*state

	sink         AuditSink
	now          func() time.Time
	excerpt      int
	seq          atomic.Uint64
	onTransition func(symbol string, from, to Phase)
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithAuditSink(sink AuditSink) Option {
	return func(r *Registry) { r.sink = sink }
}

// WithAuditExcerpt limits how many trailing audit entries a Snapshot carries.
func WithAuditExcerpt(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.excerpt = n
		}
	}
}

// WithTransitionHook runs fn under the session lock after every phase change.
// It must not block.
func WithTransitionHook(fn func(symbol string, from, to Phase)) Option {
	return func(r *Registry) { r.onTransition = fn }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*state),
		now:      time.Now,
		excerpt:  defaultAuditExcerpt,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open returns the live session for symbol, creating it in IDLE when absent.
func (r *Registry) Open(raw string) (Snapshot, bool, error) {
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return Snapshot{}, false, err
	}
	r.mu.RLock()
	st, ok := r.sessions[sym]
	r.mu.RUnlock()
	created := false
	if !ok {
		r.mu.Lock()
		st, ok = r.sessions[sym]
		if !ok {
			now := r.now()
			st = &state{
				id:               uuid.NewString(),
				symbol:           sym,
				phase:            PhaseIdle,
				createdAt:        now,
				lastTransitionAt: now,
				checklist:        analysis.NewChecklist(),
			}
			r.sessions[sym] = st
			created = true
		}
		r.mu.Unlock()
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if created {
		logger.Infof("[session] opened %s id=%s", sym, st.id)
	}
	return r.snapshotLocked(st), created, nil
}

func (r *Registry) lookup(raw string) (*state, error) {
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	st, ok := r.sessions[sym]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sym)
	}
	return st, nil
}

// Do runs fn with the session lock held. Any error from fn is returned
// as-is; audit entries appended before the error are kept.
func (r *Registry) Do(raw string, fn func(tx *Tx) error) (Snapshot, error) {
	st, err := r.lookup(raw)
	if err != nil {
		return Snapshot{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.evicted {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, st.symbol)
	}
	err = fn(&Tx{r: r, s: st})
	return r.snapshotLocked(st), err
}

func (r *Registry) Get(raw string) (Snapshot, error) {
	return r.Do(raw, func(*Tx) error { return nil })
}

// History returns the complete audit log of a session.
func (r *Registry) History(raw string) ([]AuditEntry, error) {
	st, err := r.lookup(raw)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.evicted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, st.symbol)
	}
	out := make([]AuditEntry, len(st.audit))
	copy(out, st.audit)
	return out, nil
}

func (r *Registry) Transition(raw string, to Phase, note string) (Snapshot, error) {
	return r.Do(raw, func(tx *Tx) error { return tx.Transition(to, note) })
}

// RecordError moves the session to ERRORED from any non-terminal phase and
// stores the detail. Unknown symbols are only logged.
func (r *Registry) RecordError(raw, kind, detail string) {
	_, err := r.Do(raw, func(tx *Tx) error {
		tx.Fail(kind, detail)
		return nil
	})
	if err != nil {
		logger.Warnf("[session] record error for %s dropped: %v (%s: %s)", raw, err, kind, detail)
	}
}

// Reset returns an ERRORED or CLOSED session to IDLE, dropping its analysis
// state and invalidating any strategy it selected.
func (r *Registry) Reset(raw, note string) (Snapshot, error) {
	return r.Do(raw, func(tx *Tx) error { return tx.Reset(note) })
}

func (r *Registry) Note(raw, note string, fields map[string]any) (Snapshot, error) {
	return r.Do(raw, func(tx *Tx) error {
		tx.Note(note, fields)
		return nil
	})
}

// Evict drops a whole session including its in-memory audit log. Only
// sessions at rest (IDLE, CLOSED or ERRORED with no order in flight) can be
// evicted; the returned snapshot is the session's final state.
func (r *Registry) Evict(raw string) (Snapshot, error) {
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return Snapshot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sym]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, sym)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.inFlight != "" {
		return r.snapshotLocked(st), fmt.Errorf("%w: %s", ErrBusy, st.inFlight)
	}
	if st.phase != PhaseIdle && !st.phase.Terminal() {
		return r.snapshotLocked(st), fmt.Errorf("%w: cannot evict %s session %s", ErrIllegalTransition, st.phase, sym)
	}
	r.appendLocked(st, AuditEntry{Kind: AuditNote, From: st.phase, To: st.phase, Note: "session evicted"})
	final := r.snapshotLocked(st)
	st.evicted = true
	delete(r.sessions, sym)
	logger.Infof("[session] evicted %s id=%s phase=%s", sym, st.id, st.phase)
	return final, nil
}

// List returns summaries sorted by symbol.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	states := make([]*state, 0, len(r.sessions))
	for _, st := range r.sessions {
		states = append(states, st)
	}
	r.mu.RUnlock()
	out := make([]Summary, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, Summary{
			Symbol:           st.symbol,
			Phase:            st.phase,
			Generation:       st.generation,
			StrategyID:       st.strategyID,
			LastTransitionAt: st.lastTransitionAt,
			ErrorCount:       len(st.errors),
		})
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (r *Registry) snapshotLocked(st *state) Snapshot {
	start := 0
	if len(st.audit) > r.excerpt {
		start = len(st.audit) - r.excerpt
	}
	audit := make([]AuditEntry, len(st.audit)-start)
	copy(audit, st.audit[start:])
	errs := make([]ErrorRecord, len(st.errors))
	copy(errs, st.errors)
	return Snapshot{
		ID:               st.id,
		Symbol:           st.symbol,
		Phase:            st.phase,
		Generation:       st.generation,
		CreatedAt:        st.createdAt,
		LastTransitionAt: st.lastTransitionAt,
		StrategyID:       st.strategyID,
		InFlight:         st.inFlight,
		Checklist:        st.checklist.CompletionTimes(),
		Audit:            audit,
		AuditTotal:       len(st.audit),
		Errors:           errs,
	}
}

func (r *Registry) appendLocked(st *state, entry AuditEntry) {
	entry.Seq = r.seq.Add(1)
	entry.SessionID = st.id
	entry.Symbol = st.symbol
	entry.Generation = st.generation
	if entry.At.IsZero() {
		entry.At = r.now()
	}
	st.audit = append(st.audit, entry)
	if r.sink == nil {
		return
	}
	if err := r.sink.Append(entry); err != nil {
		logger.Warnf("[session] audit sink append failed for %s seq=%d: %v", st.symbol, entry.Seq, err)
	}
}
