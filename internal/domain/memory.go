package domain

import (
	"context"
	"time"
)

// MemoryStore persists bot users, their conversations and message history.
type MemoryStore interface {
	// FirstOrCreateUser returns the user with the given email, creating it
	// with name when absent. Safe to call repeatedly.
	FirstOrCreateUser(ctx context.Context, email, name string) (User, error)

	CreateConversation(ctx context.Context, conv Conversation) error
	// LatestConversation returns the most recently updated conversation of
	// the user, or nil when there is none.
	LatestConversation(ctx context.Context, userID int64) (*Conversation, error)
	TouchConversation(ctx context.Context, id string) error

	AddMessage(ctx context.Context, convID string, msg MessageRecord) error
	// GetMessages returns up to limit most recent messages in chronological order.
	GetMessages(ctx context.Context, convID string, limit int) ([]MessageRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Channel   string    `json:"channel"` // identity of the channel that opened it
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageRecord struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ToolCalls      string    `json:"tool_calls,omitempty"` // JSON-encoded []ToolCall
	ToolCallID     string    `json:"tool_call_id,omitempty"`
	ToolName       string    `json:"tool_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
