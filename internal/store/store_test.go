package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)

	st, err := New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func strPtr(s string) *string { return &s }

func TestCreateAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	at := time.Now().UTC().Truncate(time.Microsecond)

	err := st.Create(ctx, TaskRecord{
		ID:         id,
		Payload:    "hi",
		Status:     StatusPending,
		EnqueuedAt: at,
	})
	require.NoError(t, err)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, "hi", got.Payload)
	require.Equal(t, StatusPending, got.Status)
	require.Nil(t, got.Result)
	require.True(t, got.EnqueuedAt.Equal(at))
}

func TestGetUnknownID(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionForward(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, st.Create(ctx, TaskRecord{ID: id, Payload: "hi", Status: StatusPending, EnqueuedAt: time.Now()}))

	require.NoError(t, st.Transition(ctx, id, StatusStarted, nil))

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusStarted, got.Status)
	require.Nil(t, got.Result)

	require.NoError(t, st.Transition(ctx, id, StatusSuccess, strPtr("echo: hi")))

	got, err = st.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, got.Status)
	require.NotNil(t, got.Result)
	require.Equal(t, "echo: hi", *got.Result)
}

func TestTransitionDuplicateIsStale(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, st.Create(ctx, TaskRecord{ID: id, Payload: "hi", Status: StatusPending, EnqueuedAt: time.Now()}))
	require.NoError(t, st.Transition(ctx, id, StatusStarted, nil))

	// Broker redelivery: the same transition again must change nothing.
	err := st.Transition(ctx, id, StatusStarted, nil)
	require.ErrorIs(t, err, ErrStaleTransition)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusStarted, got.Status)
}

func TestTransitionNeverMovesBackward(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, st.Create(ctx, TaskRecord{ID: id, Payload: "hi", Status: StatusPending, EnqueuedAt: time.Now()}))
	require.NoError(t, st.Transition(ctx, id, StatusSuccess, strPtr("echo: hi")))

	require.ErrorIs(t, st.Transition(ctx, id, StatusStarted, nil), ErrStaleTransition)
	require.ErrorIs(t, st.Transition(ctx, id, StatusPending, nil), ErrStaleTransition)
	// Lateral: terminal states cannot overwrite each other.
	require.ErrorIs(t, st.Transition(ctx, id, StatusFailure, strPtr("boom")), ErrStaleTransition)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, got.Status)
	require.Equal(t, "echo: hi", *got.Result)
}

func TestTerminalCollapseFromPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, st.Create(ctx, TaskRecord{ID: id, Payload: "hi", Status: StatusPending, EnqueuedAt: time.Now()}))

	// succeeded arriving before started: collapse straight to SUCCESS.
	require.NoError(t, st.Transition(ctx, id, StatusSuccess, strPtr("echo: hi")))

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, got.Status)

	// The late started event is stale, not an error state.
	require.ErrorIs(t, st.Transition(ctx, id, StatusStarted, nil), ErrStaleTransition)
}

func TestTransitionUnknownTask(t *testing.T) {
	st := newTestStore(t)

	err := st.Transition(context.Background(), uuid.New(), StatusStarted, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRollsBackRecord(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, st.Create(ctx, TaskRecord{ID: id, Payload: "hi", Status: StatusPending, EnqueuedAt: time.Now()}))
	require.NoError(t, st.Delete(ctx, id))

	_, err := st.Get(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}
