package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"clawgate/internal/domain"
)

const (
	defaultHistoryLimit = 100
	newConversationName = "New conversation"
	titleMaxLen         = 60
)

// history loads and records the messages of one conversation.
type history struct {
	store  domain.MemoryStore
	logger *slog.Logger
}

// load returns the latest limit messages in chronological order. Tool
// results whose assistant call was cut off by the limit are dropped, since
// chat APIs reject a tool message without its call.
func (h *history) load(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	records, err := h.store.GetMessages(ctx, convID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", convID, err)
	}

	messages := make([]domain.Message, 0, len(records))
	for _, r := range records {
		msg := domain.Message{
			Role:       r.Role,
			Content:    r.Content,
			ToolCallID: r.ToolCallID,
			ToolName:   r.ToolName,
		}
		if r.ToolCalls != "" {
			if err := json.Unmarshal([]byte(r.ToolCalls), &msg.ToolCalls); err != nil {
				h.logger.Warn("skipping malformed tool calls", "conversation", convID, "message", r.ID, "error", err)
				msg.ToolCalls = nil
			}
		}
		messages = append(messages, msg)
	}

	for len(messages) > 0 && messages[0].Role == "tool" {
		messages = messages[1:]
	}
	return messages, nil
}

// record appends messages to the conversation in order.
func (h *history) record(ctx context.Context, convID string, messages []domain.Message) error {
	for _, msg := range messages {
		rec := domain.MessageRecord{
			ConversationID: convID,
			Role:           msg.Role,
			Content:        msg.Content,
			ToolCallID:     msg.ToolCallID,
			ToolName:       msg.ToolName,
		}
		if len(msg.ToolCalls) > 0 {
			data, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			rec.ToolCalls = string(data)
		}
		if err := h.store.AddMessage(ctx, convID, rec); err != nil {
			return fmt.Errorf("record %s message: %w", msg.Role, err)
		}
	}
	return nil
}

// generateTitle names a conversation after the first line of its first
// message, cut at a word boundary.
func generateTitle(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return newConversationName
	}
	if idx := strings.IndexAny(msg, "\n\r"); idx > 0 {
		msg = msg[:idx]
	}
	runes := []rune(msg)
	if len(runes) > titleMaxLen {
		head := string(runes[:titleMaxLen])
		cut := strings.LastIndex(head, " ")
		if cut < 20 {
			cut = len(head)
		}
		msg = head[:cut] + "..."
	}
	return msg
}
