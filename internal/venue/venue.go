// Package venue describes the external execution venue the engine trades
// against. Implementations own connectivity; the engine only sees this
// interface.
package venue

import (
	"context"
	"errors"
)

var (
	// ErrRejected means the venue refused the order outright.
	ErrRejected = errors.New("order rejected by venue")
	// ErrUnavailable means calls are failing fast while the venue recovers.
	ErrUnavailable = errors.New("venue unavailable")
)

type Venue interface {
	FetchContext(ctx context.Context, symbol string) (ContextData, error)

	SubmitOrder(ctx context.Context, order Order) (OrderHandle, error)

	// SubscribeStatus streams status changes for handle. The channel is
	// closed after a terminal status or when ctx ends. Events that happened
	// before the call are replayed.
	SubscribeStatus(ctx context.Context, handle OrderHandle) (<-chan StatusEvent, error)

	GetAccountState(ctx context.Context) (AccountState, error)
}
