package market

import "context"

// Source produces per-symbol snapshots for the monitor loop.
// Implementations must report stale data via Snapshot.TakenAt rather than
// blocking or fabricating values; the loop decides whether to skip.
type Source interface {
	Snapshot(ctx context.Context, symbol string) (*Snapshot, error)

	Close() error
}
