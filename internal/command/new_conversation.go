package command

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"clawgate/internal/domain"
)

// ResetTTL is how long a pending conversation reset stays armed.
const ResetTTL = 60 * time.Second

// ResetKey is the marker that makes the next task start a fresh
// conversation for userID.
func ResetKey(userID int64) string {
	return "new_conversation:" + strconv.FormatInt(userID, 10)
}

// NewConversation arms a one-shot conversation reset.
type NewConversation struct {
	store domain.CoordinationStore
}

func NewNewConversation(store domain.CoordinationStore) *NewConversation {
	return &NewConversation{store: store}
}

func (c *NewConversation) Prefix() string      { return "!new" }
func (c *NewConversation) Description() string { return "Start a new conversation" }

func (c *NewConversation) Handle(ctx context.Context, _ domain.Channel, user domain.User) (string, error) {
	if err := c.store.SetWithTTL(ctx, ResetKey(user.ID), ResetTTL); err != nil {
		return "", fmt.Errorf("arm conversation reset: %w", err)
	}
	return "Conversation reset. How can I help you?", nil
}

// TakeReset consumes the reset marker for userID and reports whether one
// was armed.
func TakeReset(ctx context.Context, store domain.CoordinationStore, userID int64) (bool, error) {
	ok, err := store.Delete(ctx, ResetKey(userID))
	if err != nil {
		return false, fmt.Errorf("take conversation reset: %w", err)
	}
	return ok, nil
}
