// Package ledger tracks listing identities that have already been notified,
// so restarts and overlapping search results never produce duplicate alerts.
package ledger

import "context"

// DefaultMaxEntries caps the retained window. Oldest-inserted identities are
// evicted once the cap is exceeded.
const DefaultMaxEntries = 30000

// Ledger records previously notified listing identities.
type Ledger interface {
	// Seen reports whether the identity has already been recorded.
	Seen(ctx context.Context, id string) (bool, error)
	// Mark records the identity. Marking an already present identity is a
	// no-op and does not refresh its position in the eviction order.
	Mark(ctx context.Context, id string) error
	// Flush persists any buffered state. Backends with durable writes may
	// implement this as a no-op.
	Flush(ctx context.Context) error
	// Size reports the number of retained identities.
	Size(ctx context.Context) (int, error)
	Close() error
}
