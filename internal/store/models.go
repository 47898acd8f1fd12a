package store

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

// Lifecycle states, forward-only: PENDING -> STARTED -> {SUCCESS, FAILURE}.
const (
	StatusPending TaskStatus = "PENDING"
	StatusStarted TaskStatus = "STARTED"
	StatusSuccess TaskStatus = "SUCCESS"
	StatusFailure TaskStatus = "FAILURE"
)

// statusRank orders states for the compare-and-set transition script.
// SUCCESS and FAILURE share a rank: both are terminal and neither may
// overwrite the other.
var statusRank = map[TaskStatus]int{
	StatusPending: 0,
	StatusStarted: 1,
	StatusSuccess: 2,
	StatusFailure: 2,
}

func (s TaskStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

func (s TaskStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// TaskRecord is the authoritative per-task state. Result is nil until the
// task reaches a terminal state; for FAILURE it carries the error message.
type TaskRecord struct {
	ID         uuid.UUID  `json:"id"`
	Payload    string     `json:"payload"`
	Status     TaskStatus `json:"status"`
	Result     *string    `json:"result,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}
