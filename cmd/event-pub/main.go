// event-pub publishes synthetic lifecycle events, useful for exercising the
// consumer's duplicate and out-of-order handling against a live stream.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/queueline/queueline/internal/config"
	"github.com/queueline/queueline/internal/queue"
)

func main() {
	var (
		taskID   = flag.String("task-id", "", "Task UUID the event refers to")
		state    = flag.String("state", queue.EventStarted, "Event state (started|succeeded|failed)")
		result   = flag.String("result", "", "Result payload for succeeded events")
		errMsg   = flag.String("error", "", "Error message for failed events")
		count    = flag.Int("count", 2, "How many times to publish the same event")
		interval = flag.Duration("interval", 50*time.Millisecond, "Delay between publishes")
	)
	flag.Parse()

	if *taskID == "" {
		panic("missing --task-id")
	}
	if *count <= 0 {
		panic("--count must be > 0")
	}
	switch *state {
	case queue.EventStarted, queue.EventSucceeded, queue.EventFailed:
	default:
		panic("--state must be started|succeeded|failed")
	}

	cfg := config.Load()

	q, err := queue.New(context.Background(), queue.Config{
		NATSURL:      cfg.NATSURL,
		StreamName:   cfg.NATSStreamName,
		ConsumerName: cfg.NATSEventsConsumerName,
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
	})
	if err != nil {
		panic(err)
	}
	defer q.Close()

	ev := queue.EventMessage{
		TaskID: *taskID,
		State:  *state,
		Result: *result,
		Error:  *errMsg,
		At:     time.Now().UTC(),
	}

	b, _ := json.Marshal(ev)
	fmt.Printf("publishing %d time(s) to %s: %s\n", *count, queue.SubjectEvents, string(b))

	for i := 0; i < *count; i++ {
		hdr := nats.Header{}
		hdr.Set("task_id", *taskID)
		if err := q.PublishEvent(context.Background(), ev, hdr); err != nil {
			panic(err)
		}
		time.Sleep(*interval)
	}

	fmt.Println("done")
}
