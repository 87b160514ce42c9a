package domain

import "context"

// Tool is a capability the responder can invoke (files, web requests, speech).
// Validation problems and denied confirmations are reported in the returned
// text; a non-nil error means the tool itself broke.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
