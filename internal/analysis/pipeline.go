package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrStepOutOfOrder  = errors.New("analysis step out of order")
	ErrUnknownStep     = errors.New("unknown analysis step")
	ErrInvalidStepData = errors.New("invalid analysis step data")
	ErrPipelineDone    = errors.New("analysis already complete")
)

// DefaultSteps is the declared order used when config does not override it.
// Later steps assume the context gathered by earlier ones.
var DefaultSteps = []string{"context", "volatility", "liquidity", "feasibility", "portfolio_risk"}

// Step is one named stage of the pre-trade analysis.
type Step struct {
	Name   string
	Schema *jsonschema.Schema
}

// StepError describes a rejected step submission.
type StepError struct {
	Step     string
	Expected string
	Err      error
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Expected != "":
		return fmt.Sprintf("%v: got %q, next required step is %q", e.Err, e.Step, e.Expected)
	default:
		return fmt.Sprintf("%v: %s", e.Err, e.Step)
	}
}

func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Pipeline 按固定顺序推进会话的分析清单。
type Pipeline struct {
	steps []Step
	index map[string]int
}

// New 按给定顺序创建 Pipeline，步骤名不区分大小写且不可重复。
func New(steps ...Step) (*Pipeline, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("analysis pipeline requires at least one step")
	}
	p := &Pipeline{index: make(map[string]int, len(steps))}
	for _, st := range steps {
		name := normalizeStep(st.Name)
		if name == "" {
			return nil, fmt.Errorf("analysis step name cannot be empty")
		}
		if _, dup := p.index[name]; dup {
			return nil, fmt.Errorf("duplicate analysis step: %s", name)
		}
		p.index[name] = len(p.steps)
		p.steps = append(p.steps, Step{Name: name, Schema: st.Schema})
	}
	return p, nil
}

// NewWithSchemas builds steps by name and attaches any matching schema.
func NewWithSchemas(names []string, schemas map[string]*jsonschema.Schema) (*Pipeline, error) {
	steps := make([]Step, 0, len(names))
	for _, n := range names {
		steps = append(steps, Step{Name: n, Schema: schemas[normalizeStep(n)]})
	}
	return New(steps...)
}

// DefaultPipeline runs DefaultSteps without payload schemas.
func DefaultPipeline() *Pipeline {
	p, err := NewWithSchemas(DefaultSteps, nil)
	if err != nil {
		panic(err)
	}
	return p
}

func normalizeStep(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Steps returns the declared order.
func (p *Pipeline) Steps() []string {
	out := make([]string, len(p.steps))
	for i, st := range p.steps {
		out[i] = st.Name
	}
	return out
}

// First is the step the engine fills from the venue context fetch.
func (p *Pipeline) First() string {
	return p.steps[0].Name
}

// Next returns the first unfulfilled step.
func (p *Pipeline) Next(cl *Checklist) (string, bool) {
	for _, st := range p.steps {
		if !cl.Completed(st.Name) {
			return st.Name, true
		}
	}
	return "", false
}

// Complete reports whether every required step has an entry.
func (p *Pipeline) Complete(cl *Checklist) bool {
	_, pending := p.Next(cl)
	return !pending
}

// Missing lists unfulfilled steps in declared order.
func (p *Pipeline) Missing(cl *Checklist) []string {
	var out []string
	for _, st := range p.steps {
		if !cl.Completed(st.Name) {
			out = append(out, st.Name)
		}
	}
	return out
}

// Validate checks a step payload without touching any checklist, so callers
// can reject malformed input before taking the session lock.
func (p *Pipeline) Validate(step string, data json.RawMessage) error {
	name := normalizeStep(step)
	idx, ok := p.index[name]
	if !ok {
		return &StepError{Step: name, Err: ErrUnknownStep}
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		trimmed = "{}"
	}
	if !json.Valid([]byte(trimmed)) || !strings.HasPrefix(trimmed, "{") {
		return &StepError{Step: name, Err: fmt.Errorf("%w: payload must be a JSON object", ErrInvalidStepData)}
	}
	schema := p.steps[idx].Schema
	if schema == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return &StepError{Step: name, Err: fmt.Errorf("%w: %v", ErrInvalidStepData, err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &StepError{Step: name, Err: fmt.Errorf("%w: %v", ErrInvalidStepData, err)}
	}
	return nil
}

// RunStep 仅当 step 是下一个未完成步骤时标记完成，出错时清单保持不变。
func (p *Pipeline) RunStep(cl *Checklist, step string, data json.RawMessage, at time.Time) error {
	if cl == nil {
		return fmt.Errorf("nil checklist")
	}
	if err := p.Validate(step, data); err != nil {
		return err
	}
	name := normalizeStep(step)
	next, pending := p.Next(cl)
	if !pending {
		return &StepError{Step: name, Err: ErrPipelineDone}
	}
	if next != name {
		return &StepError{Step: name, Expected: next, Err: ErrStepOutOfOrder}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		data = json.RawMessage("{}")
	}
	cl.mark(name, at, data)
	return nil
}
