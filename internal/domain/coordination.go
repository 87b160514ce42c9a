package domain

import (
	"context"
	"time"
)

// CoordinationStore is the shared key-value primitive behind confirmation
// flags, reply queues and short-lived markers. Implementations must be safe
// for concurrent use and may be shared across processes.
type CoordinationStore interface {
	// SetWithTTL stores a flag that expires after ttl.
	SetWithTTL(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes a flag or a queue and reports whether anything was removed.
	Delete(ctx context.Context, key string) (bool, error)
	// Push appends a value to the queue at key.
	Push(ctx context.Context, key, value string) error
	// BlockingPop removes the oldest value from the queue at key, waiting up
	// to timeout. ok is false when the wait elapsed without a value.
	BlockingPop(ctx context.Context, key string, timeout time.Duration) (value string, ok bool, err error)
}
