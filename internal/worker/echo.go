package worker

import (
	"context"
	"errors"
	"time"

	"github.com/queueline/queueline/internal/store"
)

// Echo is the reference unit of work: wait, then echo the payload back.
// The delay stands in for real computation so queue positions are observable
// while tasks wait.
func Echo(delay time.Duration) Handler {
	return func(ctx context.Context, task *store.TaskRecord) (string, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return "echo: " + task.Payload, nil
	}
}

// DefaultHandlers wires the built-in handlers.
func DefaultHandlers(echoDelay time.Duration) *Registry {
	r := NewRegistry()

	r.Register("echo", Echo(echoDelay))

	// fail: always fails permanently, for exercising the failure path.
	r.Register("fail", func(ctx context.Context, task *store.TaskRecord) (string, error) {
		return "", Permanent(errors.New("requested failure"))
	})

	return r
}
