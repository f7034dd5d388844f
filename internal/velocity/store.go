package velocity

import (
	"context"
	"time"
)

// Store is the narrow contract the tracker needs from its backing storage:
// a per-user time-scored set plus a single last-seen scalar, all TTL-capable.
// Implementations must be safe for concurrent use across users.
type Store interface {
	// AddEvent records a member at the given millisecond timestamp in the
	// user's ordered set and refreshes the set's TTL.
	AddEvent(ctx context.Context, userID, member string, tsMillis int64, ttl time.Duration) error

	// PruneBefore removes set entries scored strictly below cutoffMillis.
	PruneBefore(ctx context.Context, userID string, cutoffMillis int64) error

	// CountRange counts set entries scored within [fromMillis, toMillis].
	CountRange(ctx context.Context, userID string, fromMillis, toMillis int64) (int, error)

	// LastSeen returns the user's last-seen marker in milliseconds, with
	// found=false when no marker exists.
	LastSeen(ctx context.Context, userID string) (tsMillis int64, found bool, err error)

	// SetLastSeen overwrites the user's last-seen marker with a TTL.
	SetLastSeen(ctx context.Context, userID string, tsMillis int64, ttl time.Duration) error
}
