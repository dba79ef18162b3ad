package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	fieldTriggerCondition = "trigger_condition"
	fieldOrderType        = "order_type"
)

// Rules is the declarative allow-list the classifier inspects. Field names
// are gjson paths into the request parameters.
type Rules struct {
	ConfirmToken           string
	ConditionalFields      []string
	ImmediateTriggerValues []string
	MarketOrderTypes       []string
	ExecuteNowFields       []string
}

func DefaultRules() Rules {
	return Rules{
		ConfirmToken:           "USER_CONFIRMED",
		ConditionalFields:      []string{"trigger_price", "condition", "conditions", "when", "if"},
		ImmediateTriggerValues: []string{"immediate", "now", "market", "instant"},
		MarketOrderTypes:       []string{"MKT", "MARKET"},
		ExecuteNowFields:       []string{"execute_now", "skip_confirmation"},
	}
}

func (r Rules) Validate() error {
	if strings.TrimSpace(r.ConfirmToken) == "" {
		return fmt.Errorf("confirm_token cannot be empty")
	}
	if len(r.ConditionalFields) == 0 {
		return fmt.Errorf("conditional_fields cannot be empty")
	}
	for _, f := range r.ConditionalFields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("conditional_fields contains an empty entry")
		}
	}
	return nil
}

type Kind string

const (
	KindImmediate   Kind = "immediate"
	KindConditional Kind = "conditional"
)

// Classification is either Immediate or Conditional.
type Classification interface {
	Kind() Kind
	isClassification()
}

// Immediate orders execute on submission and need confirmation.
type Immediate struct {
	Reasons []string
}

// Conditional orders rest at the venue until Trigger fires.
type Conditional struct {
	Trigger map[string]string
}

func (Immediate) Kind() Kind        { return KindImmediate }
func (Immediate) isClassification() {}

func (Conditional) Kind() Kind        { return KindConditional }
func (Conditional) isClassification() {}

// Classify uses DefaultRules.
func Classify(params []byte) Classification {
	return DefaultRules().Classify(params)
}

// Classify inspects params. An execute-now flag or an immediate
// trigger_condition overrides deferred triggers; otherwise any deferred
// trigger makes the order conditional, even with a market order type.
// Unparseable input is treated as immediate.
func (r Rules) Classify(params []byte) Classification {
	raw := strings.TrimSpace(string(params))
	if raw == "" {
		return Immediate{Reasons: []string{"no deferred trigger"}}
	}
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return Immediate{Reasons: []string{"unparseable parameters"}}
	}

	var overrides []string
	trigger := make(map[string]string)

	for _, path := range r.ExecuteNowFields {
		if res := gjson.Get(raw, path); truthy(res) {
			overrides = append(overrides, path+"="+res.String())
		}
	}
	if res := gjson.Get(raw, fieldTriggerCondition); present(res) {
		if containsFold(r.ImmediateTriggerValues, res.String()) {
			overrides = append(overrides, fieldTriggerCondition+"="+res.String())
		} else {
			trigger[fieldTriggerCondition] = res.String()
		}
	}
	for _, path := range r.ConditionalFields {
		if res := gjson.Get(raw, path); present(res) {
			trigger[path] = res.Raw
		}
	}

	switch {
	case len(overrides) > 0:
		return Immediate{Reasons: overrides}
	case len(trigger) > 0:
		return Conditional{Trigger: trigger}
	}
	if res := gjson.Get(raw, fieldOrderType); res.Exists() && containsFold(r.MarketOrderTypes, res.String()) {
		return Immediate{Reasons: []string{fieldOrderType + "=" + res.String()}}
	}
	return Immediate{Reasons: []string{"no deferred trigger"}}
}

// Fields flattens a classification for the audit log.
func Fields(c Classification) map[string]any {
	out := map[string]any{"classification": string(c.Kind())}
	switch v := c.(type) {
	case Immediate:
		out["reasons"] = strings.Join(v.Reasons, ",")
	case Conditional:
		keys := make([]string, 0, len(v.Trigger))
		for k := range v.Trigger {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+v.Trigger[k])
		}
		out["trigger"] = strings.Join(parts, ",")
	}
	return out
}

func present(res gjson.Result) bool {
	if !res.Exists() {
		return false
	}
	switch res.Type {
	case gjson.Null:
		return false
	case gjson.String:
		return strings.TrimSpace(res.Str) != ""
	case gjson.False:
		return false
	case gjson.JSON:
		if res.IsArray() {
			return len(res.Array()) > 0
		}
		return len(res.Map()) > 0
	default:
		return true
	}
}

func truthy(res gjson.Result) bool {
	switch res.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return res.Num != 0
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(res.Str)) {
		case "true", "yes", "1", "y", "on":
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}
