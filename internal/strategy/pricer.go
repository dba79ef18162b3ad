package strategy

import (
	"context"
	"fmt"
)

// Pricer turns a requested structure into executable figures. Real option
// pricing lives outside this module; DeclaredPricer accepts caller-supplied
// figures after validating them.
type Pricer interface {
	Price(ctx context.Context, symbol string, def Definition) (Definition, error)
}

type DeclaredPricer struct{}

func (DeclaredPricer) Price(_ context.Context, symbol string, def Definition) (Definition, error) {
	out := def.Normalize()
	if err := out.Validate(); err != nil {
		return Definition{}, fmt.Errorf("%s: %w", symbol, err)
	}
	return out, nil
}
