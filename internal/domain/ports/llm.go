package ports

import (
	"context"
	"time"

	"ollamachat/internal/domain/entities"
)

// ChatBackend is the transport to an inference server for streamed chat.
type ChatBackend interface {
	// ChatStream sends the request and calls handler for every chunk in order.
	// It returns nil once the backend signals completion. Errors wrap
	// apperr.ErrUnreachable or *apperr.BackendError where applicable.
	ChatStream(ctx context.Context, request *ChatRequest, handler StreamHandler) error

	// Health check
	Ping(ctx context.Context) error
}

// BackendResolver picks the backend serving a model.
type BackendResolver interface {
	Resolve(model string) (ChatBackend, error)
}

// TokenCounter estimates token counts when a backend does not report them.
type TokenCounter interface {
	CountTokens(text string) int
}

// ChatRequest represents one streamed generation request
type ChatRequest struct {
	Model    string                     `json:"model"`
	Messages []ChatMessage              `json:"messages"`
	Options  entities.GenerationOptions `json:"options"`
}

// ChatMessage is the wire form of a history entry, system prompt first.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamHandler defines a function type for handling streaming responses
type StreamHandler func(chunk *StreamChunk) error

// StreamChunk represents a chunk of streaming response
type StreamChunk struct {
	Delta      string      `json:"delta"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`
}

// TokenUsage represents token usage statistics reported with the final chunk
type TokenUsage struct {
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	EvalDuration     time.Duration `json:"eval_duration,omitempty"`
	TotalDuration    time.Duration `json:"total_duration,omitempty"`
}

// BuildChatMessages converts history to wire messages, prepending the system prompt when set.
func BuildChatMessages(systemPrompt string, history []*entities.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, ChatMessage{Role: string(entities.RoleSystem), Content: systemPrompt})
	}
	for _, m := range history {
		out = append(out, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
