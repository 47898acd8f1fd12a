package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/queueline/queueline/internal/ledger"
	"github.com/queueline/queueline/internal/lifecycle"
	"github.com/queueline/queueline/internal/queue"
	"github.com/queueline/queueline/internal/store"
)

type stubPublisher struct {
	published []queue.TaskMessage
	err       error
}

func (p *stubPublisher) PublishTask(ctx context.Context, msg queue.TaskMessage, hdr nats.Header) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func newTestService(t *testing.T, pub Publisher) (*Service, *store.Store, *ledger.Ledger) {
	t.Helper()
	mr := miniredis.RunT(t)

	st, err := store.New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(st.Close)

	led := ledger.New(st.Client())
	return NewService(st, led, pub, zap.NewNop()), st, led
}

func TestSubmitCreatesPendingTask(t *testing.T) {
	pub := &stubPublisher{}
	svc, st, led := newTestService(t, pub)
	ctx := context.Background()

	id, err := svc.Submit(ctx, "hi")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	rec, err := st.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusPending, rec.Status)
	require.Equal(t, "hi", rec.Payload)

	pos, found, err := led.Position(ctx, id.String())
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 0, pos)

	require.Len(t, pub.published, 1)
	require.Equal(t, id.String(), pub.published[0].TaskID)
	require.Equal(t, "hi", pub.published[0].Payload)
}

func TestSubmitRollsBackWhenBrokerUnreachable(t *testing.T) {
	pub := &stubPublisher{err: errors.New("nats: connection closed")}
	svc, st, led := newTestService(t, pub)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "hi")
	require.ErrorIs(t, err, ErrSubmission)

	// No orphan PENDING record and no stray ledger entry.
	depth, err := led.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, depth)

	keys, err := st.Client().Keys(ctx, "task:*").Result()
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestQueryPendingReportsPosition(t *testing.T) {
	pub := &stubPublisher{}
	svc, _, _ := newTestService(t, pub)
	ctx := context.Background()

	a, err := svc.Submit(ctx, "first")
	require.NoError(t, err)
	b, err := svc.Submit(ctx, "second")
	require.NoError(t, err)
	c, err := svc.Submit(ctx, "third")
	require.NoError(t, err)

	viewA, err := svc.Query(ctx, a)
	require.NoError(t, err)
	require.Equal(t, string(store.StatusPending), viewA.Status)
	require.Nil(t, viewA.Result)
	require.NotNil(t, viewA.QueuePosition)
	require.EqualValues(t, 0, *viewA.QueuePosition)

	viewB, err := svc.Query(ctx, b)
	require.NoError(t, err)
	require.NotNil(t, viewB.QueuePosition)
	require.EqualValues(t, 1, *viewB.QueuePosition)

	viewC, err := svc.Query(ctx, c)
	require.NoError(t, err)
	require.NotNil(t, viewC.QueuePosition)
	require.EqualValues(t, 2, *viewC.QueuePosition)
}

func TestQueryUnknownTask(t *testing.T) {
	svc, _, _ := newTestService(t, &stubPublisher{})

	_, err := svc.Query(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueryAfterLifecycle(t *testing.T) {
	pub := &stubPublisher{}
	svc, st, led := newTestService(t, pub)
	ctx := context.Background()

	id, err := svc.Submit(ctx, "hi")
	require.NoError(t, err)

	consumer := lifecycle.NewConsumer(zap.NewNop(), st, led, nil, lifecycle.ConsumerConfig{})

	_, err = consumer.Apply(ctx, queue.EventMessage{TaskID: id.String(), State: queue.EventStarted})
	require.NoError(t, err)

	view, err := svc.Query(ctx, id)
	require.NoError(t, err)
	require.Equal(t, string(store.StatusStarted), view.Status)
	require.Nil(t, view.Result)
	require.Nil(t, view.QueuePosition)

	_, err = consumer.Apply(ctx, queue.EventMessage{TaskID: id.String(), State: queue.EventSucceeded, Result: "echo: hi"})
	require.NoError(t, err)

	view, err = svc.Query(ctx, id)
	require.NoError(t, err)
	require.Equal(t, string(store.StatusSuccess), view.Status)
	require.NotNil(t, view.Result)
	require.Equal(t, "echo: hi", *view.Result)
	require.Nil(t, view.QueuePosition)
}

func TestPendingDepth(t *testing.T) {
	svc, _, _ := newTestService(t, &stubPublisher{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, "one")
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "two")
	require.NoError(t, err)

	depth, err := svc.PendingDepth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, depth)
}
