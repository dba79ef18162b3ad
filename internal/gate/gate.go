package gate

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync/atomic"

	"tradeflow/internal/logger"
)

var ErrConfirmationRequired = errors.New("explicit confirmation required")

// Decision is the gate outcome for one submission attempt.
type Decision struct {
	Admitted       bool
	Confirmed      bool
	Classification Classification
}

// AuditFunc records one gate attempt in the session log.
type AuditFunc func(symbol, note string, fields map[string]any)

// Gate blocks immediate orders unless they carry the confirmation token.
// Rules can be swapped at runtime.
type Gate struct {
	rules atomic.Pointer[Rules]
	audit AuditFunc
}

func New(rules Rules, audit AuditFunc) *Gate {
	g := &Gate{audit: audit}
	g.Update(rules)
	return g
}

func (g *Gate) Update(rules Rules) {
	cp := rules
	cp.ConditionalFields = append([]string(nil), rules.ConditionalFields...)
	cp.ImmediateTriggerValues = append([]string(nil), rules.ImmediateTriggerValues...)
	cp.MarketOrderTypes = append([]string(nil), rules.MarketOrderTypes...)
	cp.ExecuteNowFields = append([]string(nil), rules.ExecuteNowFields...)
	g.rules.Store(&cp)
}

func (g *Gate) Rules() Rules {
	return *g.rules.Load()
}

// Check classifies params and admits conditional orders outright. Immediate
// orders need token to equal the configured value exactly.
func (g *Gate) Check(symbol string, params []byte, token string) (Decision, error) {
	rules := g.rules.Load()
	cls := rules.Classify(params)
	dec := Decision{Classification: cls}

	switch cls.(type) {
	case Conditional:
		dec.Admitted = true
	default:
		if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(rules.ConfirmToken)) == 1 {
			dec.Admitted = true
			dec.Confirmed = true
		}
	}

	fields := Fields(cls)
	fields["admitted"] = dec.Admitted
	fields["token_supplied"] = token != ""
	if g.audit != nil {
		g.audit(symbol, "execution gate", fields)
	}

	if !dec.Admitted {
		logger.Warnf("[gate] %s blocked: %v", symbol, fields["reasons"])
		return dec, fmt.Errorf("%w: immediate order (%v)", ErrConfirmationRequired, fields["reasons"])
	}
	logger.Infof("[gate] %s admitted %s", symbol, cls.Kind())
	return dec, nil
}
