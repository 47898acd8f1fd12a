package lifecycle

import (
	"context"
	"encoding/json"
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

// Outcome classifies how an event landed. Applied moved state forward, Stale
// was a duplicate or out-of-order delivery absorbed by the forward-only
// state machine, Dropped was unusable (unknown task, bad state string).
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeStale
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

type ConsumerConfig struct {
	StreamName   string
	ConsumerName string
	PollTimeout  time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

// Consumer pulls lifecycle events off the bus and applies them to the
// status store and the position ledger.
type Consumer struct {
	logger *zap.Logger
	store  *store.Store
	ledger *ledger.Ledger
	q      *queue.Queue
	cfg    ConsumerConfig
}

func NewConsumer(logger *zap.Logger, st *store.Store, led *ledger.Ledger, q *queue.Queue, cfg ConsumerConfig) *Consumer {
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	return &Consumer{logger: logger, store: st, ledger: led, q: q, cfg: cfg}
}

// Run consumes events until ctx is cancelled. Events that fail on store
// connectivity are redelivered with capped doubling backoff; lifecycle facts
// must not be lost.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.q.JetStream().PullSubscribe(queue.SubjectEvents, c.cfg.ConsumerName,
		nats.BindStream(c.cfg.StreamName),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}

	c.logger.Info("lifecycle consumer started",
		zap.String("stream", c.cfg.StreamName),
		zap.String("consumer", c.cfg.ConsumerName),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("lifecycle consumer stopped")
			return nil
		default:
		}

		msgs, err := sub.Fetch(16, nats.MaxWait(c.cfg.PollTimeout))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			c.logger.Warn("fetch error", zap.Error(err))
			continue
		}

		for _, m := range msgs {
			c.handleMsg(ctx, m)
		}
	}
}

func (c *Consumer) handleMsg(ctx context.Context, m *nats.Msg) {
	if m.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, observability.NATSHeaderCarrier{H: m.Header})
	}
	tr := otel.Tracer("queueline/lifecycle")
	ctx, span := tr.Start(ctx, "queueline.apply_event")
	defer span.End()

	var ev queue.EventMessage
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		c.logger.Error("bad event JSON, dropping", zap.Error(err))
		observability.LifecycleEventsTotal.WithLabelValues("unknown", OutcomeDropped.String()).Inc()
		_ = m.Ack()
		return
	}

	outcome, err := c.Apply(ctx, ev)
	if err != nil {
		// Store unreachable: redeliver after backoff rather than lose the fact.
		attempt := 1
		if md, mdErr := m.Metadata(); mdErr == nil && md != nil && md.NumDelivered > 0 {
			attempt = int(md.NumDelivered)
		}
		delay := computeBackoff(c.cfg.BackoffBase, c.cfg.BackoffMax, attempt)

		c.logger.Warn("event apply failed, will retry",
			zap.Error(err),
			zap.String("task_id", ev.TaskID),
			zap.String("state", ev.State),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		_ = m.NakWithDelay(delay)
		return
	}

	observability.LifecycleEventsTotal.WithLabelValues(ev.State, outcome.String()).Inc()
	_ = m.Ack()
}

// Apply lands one lifecycle event. It is idempotent: replaying an event is a
// Stale outcome, not an error, and a terminal event arriving before started
// collapses straight to the terminal state. Events for unknown task ids are
// dropped rather than materialized. A non-nil error means the event was not
// applied for a transient reason and must be retried.
func (c *Consumer) Apply(ctx context.Context, ev queue.EventMessage) (Outcome, error) {
	id, err := uuid.Parse(ev.TaskID)
	if err != nil {
		c.logger.Warn("event with unparsable task id, dropping", zap.String("task_id", ev.TaskID))
		return OutcomeDropped, nil
	}

	var terr error
	switch ev.State {
	case queue.EventStarted:
		terr = c.store.Transition(ctx, id, store.StatusStarted, nil)
	case queue.EventSucceeded:
		terr = c.store.Transition(ctx, id, store.StatusSuccess, &ev.Result)
	case queue.EventFailed:
		terr = c.store.Transition(ctx, id, store.StatusFailure, &ev.Error)
	default:
		c.logger.Warn("event with unknown state, dropping",
			zap.String("task_id", ev.TaskID),
			zap.String("state", ev.State),
		)
		return OutcomeDropped, nil
	}

	switch {
	case terr == nil:
	case errors.Is(terr, store.ErrStaleTransition):
		// Duplicate or out-of-order delivery; absorbed, but still sweep the
		// ledger below in case the earlier delivery died between the two writes.
		c.logger.Debug("stale transition absorbed",
			zap.String("task_id", ev.TaskID),
			zap.String("state", ev.State),
		)
	case errors.Is(terr, store.ErrNotFound):
		c.logger.Warn("event for unknown task, dropping",
			zap.String("task_id", ev.TaskID),
			zap.String("state", ev.State),
		)
		return OutcomeDropped, nil
	default:
		return OutcomeDropped, terr
	}

	// Any observed event means the task is no longer waiting: started removes
	// the position entry, and terminal states imply started happened even if
	// that event was never seen.
	if err := c.ledger.Remove(ctx, ev.TaskID); err != nil {
		return OutcomeDropped, err
	}

	if terr != nil {
		return OutcomeStale, nil
	}

	c.logger.Info("lifecycle event applied",
		zap.String("task_id", ev.TaskID),
		zap.String("state", ev.State),
	)
	return OutcomeApplied, nil
}

func computeBackoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
