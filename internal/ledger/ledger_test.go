package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	mr := miniredis.RunT(t)

	opt, err := redis.ParseURL("redis://" + mr.Addr())
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb)
}

func TestPositionsFollowEnqueueOrder(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, led.Add(ctx, "task-a", base))
	require.NoError(t, led.Add(ctx, "task-b", base.Add(time.Millisecond)))
	require.NoError(t, led.Add(ctx, "task-c", base.Add(2*time.Millisecond)))

	pos, found, err := led.Position(ctx, "task-a")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 0, pos)

	pos, found, err = led.Position(ctx, "task-b")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1, pos)

	pos, found, err = led.Position(ctx, "task-c")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 2, pos)
}

func TestPositionRecomputedAfterRemoval(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, led.Add(ctx, "task-a", base))
	require.NoError(t, led.Add(ctx, "task-b", base.Add(time.Millisecond)))

	// A worker starts task-a: everyone behind it moves up on the next read.
	require.NoError(t, led.Remove(ctx, "task-a"))

	pos, found, err := led.Position(ctx, "task-b")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 0, pos)
}

func TestPositionGoneAfterRemove(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, led.Add(ctx, "task-a", time.Now()))
	require.NoError(t, led.Remove(ctx, "task-a"))

	_, found, err := led.Position(ctx, "task-a")
	require.NoError(t, err)
	require.False(t, found)

	// Removing again is a no-op, not an error.
	require.NoError(t, led.Remove(ctx, "task-a"))
}

func TestPositionUnknownTask(t *testing.T) {
	led := newTestLedger(t)

	_, found, err := led.Position(context.Background(), "never-submitted")
	require.NoError(t, err)
	require.False(t, found)
}

func TestAddIsIdempotent(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, led.Add(ctx, "task-a", base))
	require.NoError(t, led.Add(ctx, "task-b", base.Add(time.Millisecond)))

	// Redelivered submission must not move task-a behind task-b.
	require.NoError(t, led.Add(ctx, "task-a", base.Add(time.Hour)))

	pos, found, err := led.Position(ctx, "task-a")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 0, pos)
}

func TestNoTwoTasksShareAPosition(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	// Same enqueue timestamp: ties still rank deterministically and uniquely.
	at := time.Now().UTC()
	ids := []string{"task-a", "task-b", "task-c", "task-d"}
	for _, id := range ids {
		require.NoError(t, led.Add(ctx, id, at))
	}

	seen := map[int64]string{}
	for _, id := range ids {
		pos, found, err := led.Position(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		prev, dup := seen[pos]
		require.False(t, dup, fmt.Sprintf("position %d claimed by both %s and %s", pos, prev, id))
		seen[pos] = id
	}
}

func TestLen(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	depth, err := led.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, depth)

	require.NoError(t, led.Add(ctx, "task-a", time.Now()))
	require.NoError(t, led.Add(ctx, "task-b", time.Now().Add(time.Millisecond)))

	depth, err = led.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, depth)
}
