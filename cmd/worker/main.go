package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/queueline/queueline/internal/config"
	"github.com/queueline/queueline/internal/lifecycle"
	"github.com/queueline/queueline/internal/logging"
	"github.com/queueline/queueline/internal/observability"
	"github.com/queueline/queueline/internal/queue"
	"github.com/queueline/queueline/internal/store"
	workerpkg "github.com/queueline/queueline/internal/worker"
)

type msgAction int

const (
	actionAck msgAction = iota
	actionRetry
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	observability.RegisterMetrics()

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.OTelConfig{
		ServiceName: firstNonEmpty(cfg.OTELServiceName, "queueline-worker"),
		Endpoint:    cfg.OTELExporterOTLPEndpoint,
		Env:         cfg.Env,
	})
	if err != nil {
		logger.Fatal("otel init failed", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
		logger.Info("worker metrics server starting", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	st, err := store.New(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer st.Close()

	q, err := queue.New(context.Background(), queue.Config{
		NATSURL:      cfg.NATSURL,
		StreamName:   cfg.NATSStreamName,
		ConsumerName: cfg.NATSConsumerName,
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
	})
	if err != nil {
		logger.Fatal("nats connection failed", zap.Error(err))
	}
	defer q.Close()

	sub, err := ensurePullSub(q, cfg, logger)
	if err != nil {
		logger.Fatal("create pull consumer failed", zap.Error(err))
	}

	registry := workerpkg.DefaultHandlers(cfg.WorkerEchoDelay)
	emitter := lifecycle.NewEmitter(q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	wg := &sync.WaitGroup{}
	sem := make(chan struct{}, cfg.WorkerConcurrency)

	logger.Info("worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("poll_timeout", cfg.WorkerPollTimeout),
		zap.Int("max_attempts", cfg.WorkerMaxAttempts),
		zap.Duration("echo_delay", cfg.WorkerEchoDelay),
	)

	go func() {
		<-stop
		logger.Info("shutdown signal received")
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			logger.Info("worker stopped")
			return
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(cfg.WorkerPollTimeout))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			logger.Warn("fetch error", zap.Error(err))
			continue
		}

		for _, m := range msgs {
			sem <- struct{}{}
			wg.Add(1)

			go func(m *nats.Msg) {
				defer wg.Done()
				defer func() { <-sem }()

				action, attempt := handleMsg(ctx, logger, st, q, registry, emitter, cfg, m)

				switch action {
				case actionAck:
					_ = m.Ack()
				case actionRetry:
					delay := computeBackoff(cfg.WorkerBackoffBase, cfg.WorkerBackoffMax, attempt)
					_ = m.NakWithDelay(delay)
				default:
					_ = m.Ack()
				}
			}(m)
		}
	}
}

func ensurePullSub(q *queue.Queue, cfg *config.Config, logger *zap.Logger) (*nats.Subscription, error) {
	js := q.JetStream()

	sub, err := js.PullSubscribe(queue.SubjectTasks, cfg.NATSConsumerName,
		nats.BindStream(cfg.NATSStreamName),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("pull subscription ready",
		zap.String("stream", cfg.NATSStreamName),
		zap.String("consumer", cfg.NATSConsumerName),
	)
	return sub, nil
}

func handleMsg(
	ctx context.Context,
	logger *zap.Logger,
	st *store.Store,
	q *queue.Queue,
	registry *workerpkg.Registry,
	emitter *lifecycle.Emitter,
	cfg *config.Config,
	m *nats.Msg,
) (msgAction, int) {
	// Extract trace context from NATS headers (if present)
	if m.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, observability.NATSHeaderCarrier{H: m.Header})
	}
	tr := otel.Tracer("queueline/worker")
	ctx, span := tr.Start(ctx, "queueline.handle_task")
	defer span.End()

	// Attempt number from JetStream delivery count
	attempt := 1
	if md, err := m.Metadata(); err == nil && md != nil && md.NumDelivered > 0 {
		attempt = int(md.NumDelivered)
	}

	var tm queue.TaskMessage
	if err := json.Unmarshal(m.Data, &tm); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad_message")
		publishDLQBestEffort(ctx, logger, q, "", attempt, err, m)
		return actionAck, attempt
	}

	taskID, err := uuid.Parse(tm.TaskID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad_task_id")
		publishDLQBestEffort(ctx, logger, q, tm.TaskID, attempt, err, m)
		return actionAck, attempt
	}

	span.SetAttributes(
		attribute.String("messaging.subject", m.Subject),
		attribute.String("task.id", taskID.String()),
		attribute.Int("task.attempt", attempt),
	)

	task, err := st.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A task message without a status record: dropped, never materialized.
			logger.Warn("task message for unknown task, dropping",
				zap.String("task_id", taskID.String()),
			)
			return actionAck, attempt
		}
		return actionRetry, attempt
	}

	// Duplicate delivery after completion
	if task.Status.Terminal() {
		return actionAck, attempt
	}

	// Policy: attempts exceeded -> permanent fail + DLQ
	if attempt > cfg.WorkerMaxAttempts {
		reason := fmt.Errorf("max attempts exceeded (%d)", cfg.WorkerMaxAttempts)
		return failTask(ctx, logger, q, emitter, taskID, attempt, reason, m)
	}

	taskType := tm.Type
	if taskType == "" {
		taskType = "echo"
	}

	h, ok := registry.Get(taskType)
	if !ok {
		reason := fmt.Errorf("no handler registered for type %q", taskType)
		return failTask(ctx, logger, q, emitter, taskID, attempt, reason, m)
	}

	// Announce the start before running; the lifecycle consumer removes the
	// task from the pending ledger on this event. Duplicates on retry are
	// absorbed downstream.
	if err := emitter.Started(ctx, taskID.String()); err != nil {
		logger.Warn("failed to emit started event, will retry",
			zap.Error(err),
			zap.String("task_id", taskID.String()),
		)
		return actionRetry, attempt
	}
	observability.TasksStartedTotal.Inc()

	start := time.Now()
	result, runErr := h(ctx, task)
	observability.TaskDuration.Observe(time.Since(start).Seconds())

	if runErr == nil {
		if err := emitter.Succeeded(ctx, taskID.String(), result); err != nil {
			// The succeeded fact must not be lost; redeliver and rerun.
			logger.Warn("failed to emit succeeded event, will retry",
				zap.Error(err),
				zap.String("task_id", taskID.String()),
			)
			return actionRetry, attempt
		}

		observability.TasksCompletedTotal.Inc()

		logger.Info("task processed",
			zap.String("task_id", taskID.String()),
			zap.Int("attempt", attempt),
			zap.String("type", taskType),
		)
		return actionAck, attempt
	}

	span.RecordError(runErr)
	span.SetStatus(codes.Error, runErr.Error())

	// Permanent failure or attempts exhausted -> failed event + DLQ
	if workerpkg.IsPermanent(runErr) || attempt >= cfg.WorkerMaxAttempts {
		observability.TasksFailedTotal.WithLabelValues(failReason(runErr)).Inc()
		return failTask(ctx, logger, q, emitter, taskID, attempt, runErr, m)
	}

	// Transient failure: leave state as STARTED and let redelivery rerun it.
	logger.Warn("task failed, will retry",
		zap.String("task_id", taskID.String()),
		zap.Int("attempt", attempt),
		zap.String("type", taskType),
		zap.String("error", runErr.Error()),
	)
	return actionRetry, attempt
}

func failReason(err error) string {
	if workerpkg.IsPermanent(err) {
		return "permanent"
	}
	return "retryable"
}

func failTask(
	ctx context.Context,
	logger *zap.Logger,
	q *queue.Queue,
	emitter *lifecycle.Emitter,
	taskID uuid.UUID,
	attempt int,
	reason error,
	m *nats.Msg,
) (msgAction, int) {
	if err := emitter.Failed(ctx, taskID.String(), reason.Error()); err != nil {
		logger.Warn("failed to emit failed event, will retry",
			zap.Error(err),
			zap.String("task_id", taskID.String()),
		)
		return actionRetry, attempt
	}

	publishDLQBestEffort(ctx, logger, q, taskID.String(), attempt, reason, m)

	logger.Error("task permanently failed",
		zap.String("task_id", taskID.String()),
		zap.Int("attempt", attempt),
		zap.String("error", reason.Error()),
	)
	return actionAck, attempt
}

func publishDLQBestEffort(ctx context.Context, logger *zap.Logger, q *queue.Queue, taskID string, attempt int, reason error, m *nats.Msg) {
	if q == nil || reason == nil || m == nil {
		return
	}

	dlq := queue.DLQMessage{
		TaskID:       taskID,
		Attempt:      attempt,
		Error:        reason.Error(),
		OriginalSubj: m.Subject,
		OriginalData: m.Data,
		FailedAt:     time.Now(),
	}

	hdr := nats.Header{}
	otel.GetTextMapPropagator().Inject(ctx, observability.NATSHeaderCarrier{H: hdr})
	if taskID != "" {
		hdr.Set("task_id", taskID)
	}

	if err := q.PublishDLQ(ctx, dlq, hdr); err != nil {
		logger.Error("failed to publish DLQ message", zap.Error(err), zap.String("task_id", taskID))
	}
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
