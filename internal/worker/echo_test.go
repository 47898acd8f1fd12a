package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/queueline/queueline/internal/store"
)

func TestEchoHandler(t *testing.T) {
	h := Echo(0)

	result, err := h(context.Background(), &store.TaskRecord{
		ID:      uuid.New(),
		Payload: "hi",
		Status:  store.StatusStarted,
	})
	require.NoError(t, err)
	require.Equal(t, "echo: hi", result)
}

func TestEchoHandlerRespectsCancellation(t *testing.T) {
	h := Echo(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h(ctx, &store.TaskRecord{ID: uuid.New(), Payload: "hi"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPermanentError(t *testing.T) {
	base := errors.New("boom")

	require.False(t, IsPermanent(base))
	require.True(t, IsPermanent(Permanent(base)))
	require.Nil(t, Permanent(nil))

	wrapped := Permanent(base)
	require.ErrorIs(t, wrapped, base)
}

func TestDefaultHandlers(t *testing.T) {
	r := DefaultHandlers(0)

	h, ok := r.Get("echo")
	require.True(t, ok)
	result, err := h(context.Background(), &store.TaskRecord{Payload: "hello world"})
	require.NoError(t, err)
	require.Equal(t, "echo: hello world", result)

	h, ok = r.Get("fail")
	require.True(t, ok)
	_, err = h(context.Background(), &store.TaskRecord{Payload: "x"})
	require.Error(t, err)
	require.True(t, IsPermanent(err))

	_, ok = r.Get("missing")
	require.False(t, ok)
}
