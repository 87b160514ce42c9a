package domain

import (
	"context"
	"io"
)

// Provider is a chat model that can call tools.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// SpeechSynthesizer turns text into MP3 audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice, instructions string) (io.ReadCloser, error)
}

type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // stop | tool_calls | length
	Usage        Usage
	LatencyMs    int64
}

func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

type Message struct {
	Role        string              `json:"role"` // system | user | assistant | tool
	Content     string              `json:"content"`
	Attachments []MessageAttachment `json:"-"`
	ToolCalls   []ToolCall          `json:"tool_calls,omitempty"`
	ToolCallID  string              `json:"tool_call_id,omitempty"`
	ToolName    string              `json:"tool_name,omitempty"`
}

// MessageAttachment is an attachment translated for the model: images carry
// their bytes, documents carry extracted text when it is readable.
type MessageAttachment struct {
	Kind     AttachmentKind
	Filename string
	MimeType string
	Data     []byte
	Text     string
	Source   string // "<disk>:<path>" in the attachment store
}

type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
