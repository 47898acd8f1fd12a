// Package lifecycle is the signal bus between task execution and the shared
// state: workers emit started/succeeded/failed facts, and a dedicated
// consumer applies them to the status store and the position ledger. Keeping
// the two sides decoupled means duplicate and out-of-order deliveries can be
// handled (and tested) without involving the broker or the business logic.
package lifecycle

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/queueline/queueline/internal/observability"
	"github.com/queueline/queueline/internal/queue"
)

// Emitter publishes lifecycle facts on behalf of a worker.
type Emitter struct {
	q *queue.Queue
}

func NewEmitter(q *queue.Queue) *Emitter {
	return &Emitter{q: q}
}

func (e *Emitter) Started(ctx context.Context, taskID string) error {
	return e.publish(ctx, queue.EventMessage{
		TaskID: taskID,
		State:  queue.EventStarted,
		At:     time.Now().UTC(),
	})
}

func (e *Emitter) Succeeded(ctx context.Context, taskID, result string) error {
	return e.publish(ctx, queue.EventMessage{
		TaskID: taskID,
		State:  queue.EventSucceeded,
		Result: result,
		At:     time.Now().UTC(),
	})
}

func (e *Emitter) Failed(ctx context.Context, taskID, errMsg string) error {
	return e.publish(ctx, queue.EventMessage{
		TaskID: taskID,
		State:  queue.EventFailed,
		Error:  errMsg,
		At:     time.Now().UTC(),
	})
}

func (e *Emitter) publish(ctx context.Context, ev queue.EventMessage) error {
	hdr := nats.Header{}
	otel.GetTextMapPropagator().Inject(ctx, observability.NATSHeaderCarrier{H: hdr})
	hdr.Set("task_id", ev.TaskID)
	return e.q.PublishEvent(ctx, ev, hdr)
}
