package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"clawgate/internal/domain"
	"clawgate/internal/tool"
)

const (
	defaultMaxIterations = 20
	defaultMaxTokens     = 4096
	defaultTemperature   = 0.7
	defaultRateBurst     = 5
	defaultRatePerMinute = 30.0

	emptyReply = "I've completed processing but have no additional response."
)

// ResponderConfig holds the dependencies and tuning of the responder.
type ResponderConfig struct {
	Provider domain.Provider
	Memory   domain.MemoryStore
	Toolbox  *tool.Toolbox
	Logger   *slog.Logger

	Model             string
	MaxIterations     int
	HistoryLimit      int
	MaxTokens         int
	Temperature       float64
	RequestsPerMinute float64
}

// Responder answers one message with the chat model, running the tools it
// asks for until it produces a final reply. Conversations and their
// messages are kept in the memory store.
type Responder struct {
	provider    domain.Provider
	history     *history
	toolbox     *tool.Toolbox
	logger      *slog.Logger
	rateLimiter *RateLimiter
	now         func() time.Time

	model         string
	maxIterations int
	historyLimit  int
	maxTokens     int
	temperature   float64
}

func NewResponder(cfg ResponderConfig) *Responder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRatePerMinute
	}
	return &Responder{
		provider:      cfg.Provider,
		history:       &history{store: cfg.Memory, logger: cfg.Logger},
		toolbox:       cfg.Toolbox,
		logger:        cfg.Logger,
		rateLimiter:   NewRateLimiter(defaultRateBurst, cfg.RequestsPerMinute),
		now:           time.Now,
		model:         cfg.Model,
		maxIterations: cfg.MaxIterations,
		historyLimit:  cfg.HistoryLimit,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
	}
}

// Request is one user turn.
type Request struct {
	Channel domain.Channel
	User    domain.User
	// Conversation is continued when set; nil starts a new one.
	Conversation *domain.Conversation
	Text         string
	Attachments  []domain.MessageAttachment
	// Audio receives speech synthesized by tools during this turn.
	Audio *tool.PendingAudio
	// Photo receives the image a tool produced for the user.
	Photo *tool.PendingPhoto
}

// Respond runs the tool-calling loop for req and returns the reply text.
func (r *Responder) Respond(ctx context.Context, req Request) (string, error) {
	conv, fresh, err := r.conversation(ctx, req)
	if err != nil {
		return "", err
	}

	var past []domain.Message
	if !fresh {
		past, err = r.history.load(ctx, conv.ID, r.historyLimit)
		if err != nil {
			return "", err
		}
	}

	var tools *tool.Registry
	persona := ""
	if r.toolbox != nil {
		tools = r.toolbox.ForTask(req.Channel, req.Audio, req.Photo)
		if fresh {
			persona = r.toolbox.DefaultPersona()
		}
	}
	var toolDefs []domain.ToolDefinition
	if tools != nil {
		toolDefs = tools.GetDefinitions()
	}

	system := domain.Message{
		Role: "system",
		Content: buildInstructions(promptContext{
			Channel: req.Channel,
			Persona: persona,
			Fresh:   fresh,
			Now:     r.now(),
		}),
	}
	user := domain.Message{Role: "user", Content: req.Text, Attachments: req.Attachments}

	messages := make([]domain.Message, 0, len(past)+2)
	messages = append(messages, system)
	messages = append(messages, past...)
	messages = append(messages, user)
	turn := []domain.Message{user}

	var finalContent string
	for iteration := 0; iteration < r.maxIterations; iteration++ {
		r.logger.Debug("responder iteration", "iteration", iteration+1, "messages", len(messages))

		if err := r.rateLimiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}

		start := time.Now()
		resp, err := r.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       r.model,
			MaxTokens:   r.maxTokens,
			Temperature: r.temperature,
		})
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		r.logger.Debug("chat completion",
			"latency", time.Since(start),
			"tool_calls", len(resp.ToolCalls),
			"tokens", resp.Usage.TotalTokens,
		)

		if !resp.HasToolCalls() && resp.Content != "" {
			if extracted := extractToolCallsFromContent(resp.Content); len(extracted) > 0 {
				resp.ToolCalls = extracted
				resp.Content = ""
				r.logger.Info("extracted tool calls from content text", "count", len(extracted))
			}
		}

		if !resp.HasToolCalls() {
			finalContent = stripRolePrefix(resp.Content)
			break
		}

		call := domain.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, call)
		turn = append(turn, call)

		// One call at a time so a channel never has two confirmations open.
		for _, tc := range resp.ToolCalls {
			result := r.executeTool(ctx, tools, tc)
			msg := domain.Message{Role: "tool", Content: result, ToolCallID: tc.ID, ToolName: tc.Name}
			messages = append(messages, msg)
			turn = append(turn, msg)
		}
	}

	if finalContent == "" {
		finalContent = emptyReply
	}
	turn = append(turn, domain.Message{Role: "assistant", Content: finalContent})

	if err := r.history.record(ctx, conv.ID, turn); err != nil {
		r.logger.Warn("failed to record conversation turn", "conversation", conv.ID, "error", err)
	}
	if !fresh {
		if err := r.history.store.TouchConversation(ctx, conv.ID); err != nil {
			r.logger.Warn("failed to touch conversation", "conversation", conv.ID, "error", err)
		}
	}

	return finalContent, nil
}

// conversation returns the conversation to continue, creating one when the
// request carries none. fresh reports whether it was just created.
func (r *Responder) conversation(ctx context.Context, req Request) (*domain.Conversation, bool, error) {
	if req.Conversation != nil {
		return req.Conversation, false, nil
	}
	conv := &domain.Conversation{
		ID:     uuid.NewString(),
		UserID: req.User.ID,
		Title:  generateTitle(req.Text),
	}
	if req.Channel != nil {
		conv.Channel = req.Channel.Identifier()
	}
	if err := r.history.store.CreateConversation(ctx, *conv); err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	r.logger.Info("created conversation", "conversation", conv.ID, "user", req.User.ID, "channel", conv.Channel)
	return conv, true, nil
}

// executeTool runs one tool call. Failures are returned to the model as
// text so it can react; they never abort the turn.
func (r *Responder) executeTool(ctx context.Context, tools *tool.Registry, tc domain.ToolCall) string {
	r.logger.Info("executing tool", "tool", tc.Name)
	if tools == nil {
		return fmt.Sprintf("Error executing tool %s: no tools are available", tc.Name)
	}

	if r.logger.Enabled(ctx, slog.LevelDebug) {
		if argsJSON, err := json.Marshal(tc.Arguments); err == nil {
			r.logger.Debug("tool arguments", "tool", tc.Name, "args", string(argsJSON))
		}
	}

	result, err := tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		return fmt.Sprintf("Error executing tool %s: %s", tc.Name, err.Error())
	}
	r.logger.Debug("tool completed", "tool", tc.Name, "result_len", len(result))
	return result
}
