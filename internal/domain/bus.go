package domain

import "context"

// TaskQueue hands accepted inbound messages to the worker pool. Each
// enqueued Channel is consumed by exactly one worker.
type TaskQueue interface {
	Enqueue(ctx context.Context, ch Channel) error
}
