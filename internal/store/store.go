package store

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Store keeps the canonical lifecycle state and result of every task in
// Redis, one hash per task. It is shared by the API, worker and lifecycle
// processes; all state transitions go through a single atomic script so no
// reader ever observes a backward move.
type Store struct {
	rdb *redis.Client
}

func New(ctx context.Context, redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// verify connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
}

// Client exposes the underlying connection so sibling components (the
// position ledger) can share it.
func (s *Store) Client() *redis.Client {
	return s.rdb
}
