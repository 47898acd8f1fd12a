// Package ledger tracks the set of tasks still waiting for a worker and
// answers "how many pending tasks are ahead of mine".
//
// The pending set is a single Redis sorted set: member = task id, score =
// enqueue time in microseconds. Insertion (ZADD NX) and removal (ZREM) are
// each one atomic command, and a task's position is computed on read from
// the current membership (ZRANK) rather than kept as a per-task counter.
// Counters maintained across concurrent removals drift when updates are
// lost; membership rank cannot.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingKey = "tasks:pending"

type Ledger struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Ledger {
	return &Ledger{rdb: rdb}
}

// Add registers a pending task. NX semantics: a redelivered submission for
// an id already present leaves the original enqueue ordering untouched.
func (l *Ledger) Add(ctx context.Context, taskID string, enqueuedAt time.Time) error {
	return l.rdb.ZAddNX(ctx, pendingKey, redis.Z{
		Score:  float64(enqueuedAt.UTC().UnixMicro()),
		Member: taskID,
	}).Err()
}

// Remove drops a task from the pending set. Removing an id that is not a
// member is a no-op, so duplicate started events and the terminal-event
// sweep are safe to apply blindly.
func (l *Ledger) Remove(ctx context.Context, taskID string) error {
	return l.rdb.ZRem(ctx, pendingKey, taskID).Err()
}

// Position returns the zero-based count of pending tasks enqueued ahead of
// taskID, or found=false when the task is not pending (it has started or
// finished, or never existed). Ties on the enqueue timestamp rank in member
// order, so no two pending tasks ever report the same position.
func (l *Ledger) Position(ctx context.Context, taskID string) (int64, bool, error) {
	rank, err := l.rdb.ZRank(ctx, pendingKey, taskID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rank, true, nil
}

// Len reports the current pending-set depth.
func (l *Ledger) Len(ctx context.Context) (int64, error) {
	return l.rdb.ZCard(ctx, pendingKey).Result()
}
