// Package tasks holds the client-facing task operations: submitting a unit
// of work into the queue and answering status/position queries.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/queueline/queueline/internal/ledger"
	"github.com/queueline/queueline/internal/observability"
	"github.com/queueline/queueline/internal/queue"
	"github.com/queueline/queueline/internal/store"
)

// ErrSubmission means the broker could not take the task; nothing was
// created and the caller may retry.
var ErrSubmission = errors.New("task submission failed")

// Publisher is the slice of the broker the gateway needs.
type Publisher interface {
	PublishTask(ctx context.Context, msg queue.TaskMessage, hdr nats.Header) error
}

// View is the merged answer to "where is my task". QueuePosition is set only
// while the task is PENDING and still present in the ledger; a task observed
// with a position on one poll and nil on the next has simply started.
type View struct {
	TaskID        string  `json:"task_id"`
	Status        string  `json:"status"`
	Result        *string `json:"result"`
	QueuePosition *int64  `json:"queue_position"`
}

type Service struct {
	store  *store.Store
	ledger *ledger.Ledger
	pub    Publisher
	logger *zap.Logger
}

func NewService(st *store.Store, led *ledger.Ledger, pub Publisher, logger *zap.Logger) *Service {
	return &Service{store: st, ledger: led, pub: pub, logger: logger}
}

// Submit registers a new task and hands it to the broker. The status record
// and ledger entry are written first and rolled back if the publish fails,
// so a PENDING record always has a published task behind it.
func (s *Service) Submit(ctx context.Context, text string) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now().UTC()

	rec := store.TaskRecord{
		ID:         id,
		Payload:    text,
		Status:     store.StatusPending,
		EnqueuedAt: now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("create task record: %w", err)
	}

	if err := s.ledger.Add(ctx, id.String(), now); err != nil {
		_ = s.store.Delete(ctx, id)
		return uuid.Nil, fmt.Errorf("register pending task: %w", err)
	}

	hdr := nats.Header{}
	otel.GetTextMapPropagator().Inject(ctx, observability.NATSHeaderCarrier{H: hdr})
	hdr.Set("task_id", id.String())

	msg := queue.TaskMessage{
		TaskID:     id.String(),
		Type:       "echo",
		Payload:    text,
		EnqueuedAt: now,
	}
	if err := s.pub.PublishTask(ctx, msg, hdr); err != nil {
		_ = s.ledger.Remove(ctx, id.String())
		_ = s.store.Delete(ctx, id)
		s.logger.Error("broker publish failed, submission rolled back",
			zap.Error(err),
			zap.String("task_id", id.String()),
		)
		return uuid.Nil, fmt.Errorf("%w: %v", ErrSubmission, err)
	}

	observability.TasksSubmittedTotal.Inc()

	s.logger.Info("task submitted",
		zap.String("task_id", id.String()),
	)
	return id, nil
}

// Query merges the status store and the position ledger for one task.
// Returns store.ErrNotFound for ids the store has never seen.
func (s *Service) Query(ctx context.Context, id uuid.UUID) (*View, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	v := &View{
		TaskID: id.String(),
		Status: string(rec.Status),
		Result: rec.Result,
	}

	if rec.Status == store.StatusPending {
		pos, found, err := s.ledger.Position(ctx, id.String())
		if err != nil {
			return nil, fmt.Errorf("position lookup: %w", err)
		}
		// Not found here means the task started between the two reads.
		if found {
			v.QueuePosition = &pos
		}
	}

	return v, nil
}

// PendingDepth reports the current queue length.
func (s *Service) PendingDepth(ctx context.Context) (int64, error) {
	return s.ledger.Len(ctx)
}
