package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectTasks carries submitted tasks to the competing worker consumers.
	SubjectTasks = "tasks.submit"
	// SubjectEvents carries lifecycle facts emitted by workers.
	SubjectEvents = "tasks.events"
	// SubjectDLQ collects task messages that could not be processed.
	SubjectDLQ = "tasks.dlq"
)

// Lifecycle event states as they travel over the wire.
const (
	EventStarted   = "started"
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
)

type Config struct {
	NATSURL      string
	StreamName   string
	ConsumerName string
	AckWait      time.Duration
	MaxDeliver   int
}

type Queue struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg Config
}

// TaskMessage is the broker envelope for a submitted task. Type selects the
// worker handler; an empty type means the default echo handler.
type TaskMessage struct {
	TaskID     string    `json:"task_id"`
	Type       string    `json:"type,omitempty"`
	Payload    string    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// EventMessage is one lifecycle fact: (task_id, state, optional payload).
// Result is set for succeeded events, Error for failed ones.
type EventMessage struct {
	TaskID string    `json:"task_id"`
	State  string    `json:"state"`
	Result string    `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

type DLQMessage struct {
	TaskID       string    `json:"task_id"`
	Attempt      int       `json:"attempt"`
	Error        string    `json:"error"`
	OriginalSubj string    `json:"original_subject"`
	OriginalData []byte    `json:"original_data"`
	FailedAt     time.Time `json:"failed_at"`
}

func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.AckWait == 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = 5
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	q := &Queue{nc: nc, js: js, cfg: cfg}
	if err := q.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) Close() {
	if q.nc != nil {
		q.nc.Close()
	}
}

func (q *Queue) JetStream() nats.JetStreamContext {
	return q.js
}

func (q *Queue) ensureStream(ctx context.Context) error {
	desired := []string{SubjectTasks, SubjectEvents, SubjectDLQ}

	// An existing stream keeps its config; only missing subjects are added.
	if info, err := q.js.StreamInfo(q.cfg.StreamName); err == nil && info != nil {
		merged, changed := mergeSubjects(info.Config.Subjects, desired)
		if !changed {
			return nil
		}

		sc := info.Config
		sc.Subjects = merged
		sc.Name = q.cfg.StreamName

		if _, err := q.js.UpdateStream(&sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		return nil
	}

	sc := &nats.StreamConfig{
		Name:      q.cfg.StreamName,
		Subjects:  desired,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	}
	if _, err := q.js.AddStream(sc); err != nil {
		return fmt.Errorf("add stream: %w", err)
	}
	return nil
}

func mergeSubjects(existing, desired []string) ([]string, bool) {
	set := make(map[string]struct{}, len(existing)+len(desired))
	out := make([]string, 0, len(existing)+len(desired))

	for _, s := range existing {
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
	}

	changed := false
	for _, s := range desired {
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
		changed = true
	}

	return out, changed
}

func (q *Queue) PublishTask(ctx context.Context, msg TaskMessage, hdr nats.Header) error {
	return q.publish(SubjectTasks, msg, hdr)
}

func (q *Queue) PublishEvent(ctx context.Context, ev EventMessage, hdr nats.Header) error {
	return q.publish(SubjectEvents, ev, hdr)
}

func (q *Queue) PublishDLQ(ctx context.Context, msg DLQMessage, hdr nats.Header) error {
	return q.publish(SubjectDLQ, msg, hdr)
}

func (q *Queue) publish(subject string, v any, hdr nats.Header) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m := &nats.Msg{Subject: subject, Data: b, Header: hdr}
	_, err = q.js.PublishMsg(m)
	return err
}
