package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/ports"
)

// Adapter streams chat over an OpenAI-compatible API (LM Studio, vLLM,
// Ollama's /v1 endpoint or OpenAI itself).
type Adapter struct {
	client  *openai.Client
	baseURL string
}

var (
	_ ports.ChatBackend = (*Adapter)(nil)
	_ ports.ModelLister = (*Adapter)(nil)
)

// NewAdapter creates a new OpenAI-compatible chat adapter
func NewAdapter(baseURL, apiKey string) *Adapter {
	config := openai.DefaultConfig(apiKey)

	// Override base URL for local providers like Ollama/LM Studio
	if baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return &Adapter{
		client:  openai.NewClientWithConfig(config),
		baseURL: config.BaseURL,
	}
}

// BaseURL returns the API root requests are sent to.
func (a *Adapter) BaseURL() string {
	return a.baseURL
}

// ChatStream generates a streaming completion. Token usage is requested via
// stream options and attached to the final chunk when the server reports it.
func (a *Adapter) ChatStream(ctx context.Context, request *ports.ChatRequest, handler ports.StreamHandler) error {
	started := time.Now()

	stream, err := a.client.CreateChatCompletionStream(ctx, a.buildRequest(request))
	if err != nil {
		return a.mapError(ctx, err)
	}
	defer stream.Close()

	var (
		usage        *ports.TokenUsage
		finishReason string
	)
	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if usage != nil {
					usage.TotalDuration = time.Since(started)
				}
				return handler(&ports.StreamChunk{
					Done:       true,
					DoneReason: finishReason,
					Usage:      usage,
				})
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("streaming error: %w", err)
		}

		if response.Usage != nil {
			usage = &ports.TokenUsage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content == "" {
			continue
		}
		if err := handler(&ports.StreamChunk{Delta: choice.Delta.Content}); err != nil {
			return err
		}
	}
}

// ListModels returns the models advertised by /models.
func (a *Adapter) ListModels(ctx context.Context) ([]ports.ModelSummary, error) {
	list, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, a.mapError(ctx, err)
	}

	models := make([]ports.ModelSummary, 0, len(list.Models))
	for _, m := range list.Models {
		summary := ports.ModelSummary{Name: m.ID}
		if m.CreatedAt > 0 {
			summary.ModifiedAt = time.Unix(m.CreatedAt, 0).UTC()
		}
		models = append(models, summary)
	}
	return models, nil
}

// Ping checks API connectivity
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai-compatible API not available: %w", a.mapError(ctx, err))
	}
	return nil
}

// buildRequest maps generation options onto the chat completion request.
// top_k and repeat_penalty have no OpenAI equivalent and are not sent.
func (a *Adapter) buildRequest(request *ports.ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(request.Messages))
	for _, m := range request.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    convertRole(m.Role),
			Content: m.Content,
		})
	}

	opts := request.Options
	return openai.ChatCompletionRequest{
		Model:         request.Model,
		Messages:      messages,
		MaxTokens:     opts.MaxTokens,
		Temperature:   float32(opts.Temperature),
		TopP:          float32(opts.TopP),
		Stop:          opts.Stop,
		Seed:          opts.Seed,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
}

// convertRole converts our domain roles to OpenAI roles
func convertRole(role string) string {
	switch entities.MessageRole(role) {
	case entities.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case entities.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

// mapError translates client errors into the shared error taxonomy.
func (a *Adapter) mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &apperr.BackendError{Code: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &apperr.BackendError{Code: reqErr.HTTPStatusCode, Message: msg}
	}
	return fmt.Errorf("%w: %v", apperr.ErrUnreachable, err)
}
