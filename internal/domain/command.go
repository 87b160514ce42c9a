package domain

import "context"

// Command is a short-circuit handler matched by prefix before the responder
// runs. An empty response means nothing is sent back.
type Command interface {
	Prefix() string
	Handle(ctx context.Context, ch Channel, user User) (string, error)
}
