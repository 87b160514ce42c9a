// Package provider talks to OpenAI-compatible model APIs: chat completions
// with tool calling, speech transcription and speech synthesis.
package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"clawgate/internal/domain"
)

const defaultHTTPTimeout = 120 * time.Second

// OpenAI implements domain.Provider on top of go-openai.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty means api.openai.com
	Model   string
	Logger  *slog.Logger
}

// newClient builds a go-openai client sharing the pooled HTTP transport.
func newClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = SharedHTTPClient(defaultHTTPTimeout)
	return openai.NewClientWithConfig(cfg)
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		client: newClient(cfg.APIKey, cfg.BaseURL),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	body := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
		Tools:    convertTools(req.Tools),
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		body.Temperature = float32(req.Temperature)
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, o.logger, func() error {
		var err error
		resp, err = o.client.CreateChatCompletion(ctx, body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}

	out := &domain.ChatResponse{
		FinishReason: "stop",
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	if choice.FinishReason != "" {
		out.FinishReason = string(choice.FinishReason)
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			o.logger.Warn("tool call arguments are not valid JSON", "tool", tc.Function.Name, "err", err)
		}
		if args == nil {
			args = make(map[string]any)
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// convertMessages maps domain messages to chat completion messages. Images
// become data-URL parts; readable documents are appended to the text.
func convertMessages(messages []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		om := openai.ChatCompletionMessage{Role: m.Role}

		switch m.Role {
		case openai.ChatMessageRoleTool:
			om.Content = m.Content
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
		case openai.ChatMessageRoleAssistant:
			om.Content = m.Content
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
		default:
			text := m.Content
			var images []openai.ChatMessagePart
			for _, a := range m.Attachments {
				switch {
				case a.Kind == domain.KindImage && len(a.Data) > 0:
					images = append(images, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL(a.MimeType, a.Data),
							Detail: openai.ImageURLDetailAuto,
						},
					})
				case a.Text != "":
					text += fmt.Sprintf("\n\n[Attached file: %s]\n%s", a.Filename, a.Text)
				case a.Source != "":
					text += fmt.Sprintf("\n\n[Attached file: %s (%s) stored at %s]", a.Filename, a.MimeType, a.Source)
				}
			}
			if len(images) == 0 {
				om.Content = text
				break
			}
			parts := make([]openai.ChatMessagePart, 0, len(images)+1)
			if text != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
			}
			om.MultiContent = append(parts, images...)
		}
		out = append(out, om)
	}
	return out
}

func convertTools(tools []domain.ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func dataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var _ domain.Provider = (*OpenAI)(nil)
