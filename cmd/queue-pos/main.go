// queue-pos prints the stream state, the pending-queue depth, and (when
// given a task id) that task's lifecycle state and current position in line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/queueline/queueline/internal/config"
	"github.com/queueline/queueline/internal/ledger"
	"github.com/queueline/queueline/internal/logging"
	"github.com/queueline/queueline/internal/queue"
	"github.com/queueline/queueline/internal/store"
)

func main() {
	taskID := flag.String("task-id", "", "Task UUID to inspect (optional)")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	q, err := queue.New(ctx, queue.Config{
		NATSURL:      cfg.NATSURL,
		StreamName:   cfg.NATSStreamName,
		ConsumerName: "queue-pos",
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
	})
	if err != nil {
		logger.Fatal("nats connection failed", zap.Error(err))
	}
	defer q.Close()

	info, err := q.JetStream().StreamInfo(cfg.NATSStreamName)
	if err != nil {
		logger.Fatal("StreamInfo failed", zap.Error(err))
	}

	fmt.Println("STREAM:", info.Config.Name)
	fmt.Println("SUBJECTS:")
	for _, s := range info.Config.Subjects {
		fmt.Println(" -", s)
	}
	fmt.Println("STATE:", "msgs=", info.State.Msgs, "bytes=", info.State.Bytes)

	st, err := store.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer st.Close()

	led := ledger.New(st.Client())

	depth, err := led.Len(ctx)
	if err != nil {
		logger.Fatal("pending depth failed", zap.Error(err))
	}
	fmt.Println("PENDING:", depth)

	if *taskID == "" {
		return
	}

	id, err := uuid.Parse(*taskID)
	if err != nil {
		logger.Fatal("invalid --task-id", zap.Error(err))
	}

	rec, err := st.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Println("TASK:", *taskID, "not found")
		return
	}
	if err != nil {
		logger.Fatal("task lookup failed", zap.Error(err))
	}

	fmt.Println("TASK:", rec.ID)
	fmt.Println("STATUS:", rec.Status)
	if rec.Result != nil {
		fmt.Println("RESULT:", *rec.Result)
	}

	pos, found, err := led.Position(ctx, rec.ID.String())
	if err != nil {
		logger.Fatal("position lookup failed", zap.Error(err))
	}
	if found {
		fmt.Println("POSITION:", pos)
	} else {
		fmt.Println("POSITION: none (running or done)")
	}
}
