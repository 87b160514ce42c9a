package agent

import (
	"context"
	"fmt"
	"strings"

	"clawgate/internal/domain"
)

// UserEmail derives the synthetic email of the bot user behind a channel
// identity, e.g. "telegram:42" becomes "telegram-42@bot.local".
func UserEmail(identifier string) string {
	return strings.ReplaceAll(identifier, ":", "-") + "@bot.local"
}

// resolveUser returns the user of a channel, creating it on first contact.
func resolveUser(ctx context.Context, store domain.MemoryStore, identifier string) (domain.User, error) {
	user, err := store.FirstOrCreateUser(ctx, UserEmail(identifier), identifier)
	if err != nil {
		return domain.User{}, fmt.Errorf("resolve user %s: %w", identifier, err)
	}
	return user, nil
}
