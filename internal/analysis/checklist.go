package analysis

import (
	"encoding/json"
	"time"
)

// Entry records one completed analysis step.
type Entry struct {
	Step        string          `json:"step"`
	CompletedAt time.Time       `json:"completed_at"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Checklist maps required step names to their completion. An absent entry
// means the step has not been gathered since the session was last reset.
// It is not safe for concurrent use; the owning session serializes access.
type Checklist struct {
	entries map[string]Entry
}

func NewChecklist() *Checklist {
	return &Checklist{entries: make(map[string]Entry)}
}

func (c *Checklist) Completed(step string) bool {
	if c == nil {
		return false
	}
	_, ok := c.entries[step]
	return ok
}

func (c *Checklist) Entry(step string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok := c.entries[step]
	return e, ok
}

func (c *Checklist) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

func (c *Checklist) mark(step string, at time.Time, data json.RawMessage) {
	if c.entries == nil {
		c.entries = make(map[string]Entry)
	}
	cp := make(json.RawMessage, len(data))
	copy(cp, data)
	c.entries[step] = Entry{Step: step, CompletedAt: at, Data: cp}
}

// Clone returns a deep copy safe to hand out of the session lock.
func (c *Checklist) Clone() *Checklist {
	out := NewChecklist()
	if c == nil {
		return out
	}
	for k, v := range c.entries {
		data := make(json.RawMessage, len(v.Data))
		copy(data, v.Data)
		v.Data = data
		out.entries[k] = v
	}
	return out
}

// CompletionTimes reports step -> completion time without the payloads.
func (c *Checklist) CompletionTimes() map[string]time.Time {
	out := make(map[string]time.Time)
	if c == nil {
		return out
	}
	for k, v := range c.entries {
		out[k] = v.CompletedAt
	}
	return out
}
