package broker

import (
	"context"

	"dtms/internal/types"
)

// Broker is the trade-execution collaborator boundary. The read side is
// polled by the monitor loop; the mutating side must only ever be called
// from the action executor's single worker.
type Broker interface {
	Name() string

	ListOpenPositions(ctx context.Context) ([]types.Position, error)

	AccountSummary(ctx context.Context) (types.Account, error)

	// ModifyStopLoss moves the protective stop of an open position.
	ModifyStopLoss(ctx context.Context, ticket int64, stopLoss float64, comment string) error

	// PartialClose closes part of a position by volume.
	PartialClose(ctx context.Context, ticket int64, volume float64, comment string) error

	// ClosePosition flattens the position entirely.
	ClosePosition(ctx context.Context, ticket int64, comment string) error
}
