package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const taskKeyPrefix = "task:"

func taskKey(id uuid.UUID) string {
	return taskKeyPrefix + id.String()
}

// transitionScript applies a forward-only state change atomically. Redis
// executes scripts single-threaded, so two processes racing on the same task
// cannot interleave the read and the write.
//
// Returns: "ok" applied, "stale" backward/lateral move, "missing" unknown
// task, "invalid" unknown state string.
var transitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
  return 'missing'
end
local ranks = {['PENDING']=0, ['STARTED']=1, ['SUCCESS']=2, ['FAILURE']=2}
local curRank = ranks[cur]
local newRank = ranks[ARGV[1]]
if curRank == nil or newRank == nil then
  return 'invalid'
end
if newRank <= curRank then
  return 'stale'
end
redis.call('HSET', KEYS[1], 'status', ARGV[1])
if newRank == 2 then
  redis.call('HSET', KEYS[1], 'result', ARGV[2])
end
return 'ok'
`)

// Create writes the initial PENDING record for a freshly submitted task.
func (s *Store) Create(ctx context.Context, t TaskRecord) error {
	return s.rdb.HSet(ctx, taskKey(t.ID),
		"id", t.ID.String(),
		"payload", t.Payload,
		"status", string(t.Status),
		"enqueued_at", t.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	).Err()
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*TaskRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	t := TaskRecord{
		ID:      id,
		Payload: fields["payload"],
		Status:  TaskStatus(fields["status"]),
	}
	if v, ok := fields["result"]; ok {
		t.Result = &v
	}
	if v, ok := fields["enqueued_at"]; ok {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, errors.New("corrupt enqueued_at for task " + id.String() + ": " + strconv.Quote(v))
		}
		t.EnqueuedAt = at
	}
	return &t, nil
}

// Transition moves a task to status, recording result for terminal states.
// A backward or lateral move returns ErrStaleTransition; callers absorb it
// as a duplicate or out-of-order delivery. Terminal transitions are allowed
// straight from PENDING: a succeeded/failed event implies started happened.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, status TaskStatus, result *string) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}

	res := ""
	if result != nil {
		res = *result
	}

	out, err := transitionScript.Run(ctx, s.rdb, []string{taskKey(id)}, string(status), res).Text()
	if err != nil {
		return err
	}

	switch out {
	case "ok":
		return nil
	case "stale":
		return ErrStaleTransition
	case "missing":
		return ErrNotFound
	default:
		return ErrInvalidStatus
	}
}

// Delete removes a task record. Only the submission rollback path uses it:
// a task whose broker publish failed must not linger as an orphan PENDING.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.rdb.Del(ctx, taskKey(id)).Err()
}
