// Package velocity tracks per-user transaction frequency over short sliding
// windows. The counts feed the rapid-transaction rule and the ML feature
// vector as behavioral fraud signals.
//
// The tracker degrades gracefully: if the backing store is unreachable the
// caller gets zero counts and an unbounded elapsed-time sentinel instead of
// an error, so a Redis outage slows nothing down and blocks no decision.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// UnboundedElapsed marks "no previous transaction seen" (or store failure).
const UnboundedElapsed = int64(math.MaxInt64)

const (
	oneMinuteWindow  = time.Minute
	fiveMinuteWindow = 5 * time.Minute

	// keyTTL bounds storage growth; comfortably past the widest window so
	// an entry can never expire while still countable.
	keyTTL = 10 * time.Minute
)

// Stats is the velocity measurement for one event, inclusive of the event
// itself. Never persisted; recomputed per event.
type Stats struct {
	TransactionsPerMinute      int
	TransactionsPerFiveMinutes int
	SecondsSinceLast           int64
}

// degradedStats is returned whenever the store cannot answer.
func degradedStats() Stats {
	return Stats{SecondsSinceLast: UnboundedElapsed}
}

// Tracker records transaction timestamps per user and answers windowed
// counts. Operations for one user are serialized; different users proceed
// independently.
type Tracker struct {
	store  Store
	logger *slog.Logger

	locks sync.Map // userID → *sync.Mutex
}

// NewTracker creates a tracker over the given store.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger}
}

// Track records the event and measures the user's recent velocity: counts in
// the trailing 60s and 300s windows (including this event) and the seconds
// since the user's previous transaction, read from the last-seen marker
// before this event overwrites it.
//
// Any store failure degrades to zero counts and UnboundedElapsed.
func (t *Tracker) Track(ctx context.Context, userID, transactionID string, ts time.Time) Stats {
	mu := t.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	eventMillis := ts.UnixMilli()
	member := fmt.Sprintf("%s:%d", transactionID, eventMillis)

	previous, hasPrevious, err := t.store.LastSeen(ctx, userID)
	if err != nil {
		return t.degrade(userID, err)
	}

	if err := t.store.AddEvent(ctx, userID, member, eventMillis, keyTTL); err != nil {
		return t.degrade(userID, err)
	}
	if err := t.store.PruneBefore(ctx, userID, eventMillis-fiveMinuteWindow.Milliseconds()); err != nil {
		return t.degrade(userID, err)
	}

	perMinute, err := t.store.CountRange(ctx, userID, eventMillis-oneMinuteWindow.Milliseconds(), eventMillis)
	if err != nil {
		return t.degrade(userID, err)
	}
	perFiveMinutes, err := t.store.CountRange(ctx, userID, eventMillis-fiveMinuteWindow.Milliseconds(), eventMillis)
	if err != nil {
		return t.degrade(userID, err)
	}

	if err := t.store.SetLastSeen(ctx, userID, eventMillis, keyTTL); err != nil {
		return t.degrade(userID, err)
	}

	return Stats{
		TransactionsPerMinute:      perMinute,
		TransactionsPerFiveMinutes: perFiveMinutes,
		SecondsSinceLast:           secondsSince(eventMillis, previous, hasPrevious),
	}
}

func (t *Tracker) degrade(userID string, err error) Stats {
	t.logger.Warn("velocity_tracking_unavailable", "user_id", userID, "error", err)
	return degradedStats()
}

func (t *Tracker) userLock(userID string) *sync.Mutex {
	v, _ := t.locks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func secondsSince(nowMillis, previousMillis int64, hasPrevious bool) int64 {
	if !hasPrevious {
		return UnboundedElapsed
	}
	elapsed := (nowMillis - previousMillis) / 1000
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
