package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/ports"
)

// ErrIncompleteStream is returned when the server closes a chat stream
// before sending the final chunk.
var ErrIncompleteStream = errors.New("chat stream ended before completion")

type chatOptions struct {
	Temperature   float64  `json:"temperature"`
	NumPredict    int      `json:"num_predict"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Seed          *int     `json:"seed,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

type chatRequest struct {
	Model    string              `json:"model"`
	Messages []ports.ChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  chatOptions         `json:"options"`
}

// chatChunk is one NDJSON line of /api/chat. Durations are nanoseconds.
type chatChunk struct {
	Model   string            `json:"model"`
	Message ports.ChatMessage `json:"message"`
	Done    bool              `json:"done"`

	DoneReason         string `json:"done_reason,omitempty"`
	TotalDuration      int64  `json:"total_duration,omitempty"`
	PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
	EvalCount          int    `json:"eval_count,omitempty"`
	EvalDuration       int64  `json:"eval_duration,omitempty"`

	Error string `json:"error,omitempty"`
}

func toChatOptions(o entities.GenerationOptions) chatOptions {
	return chatOptions{
		Temperature:   o.Temperature,
		NumPredict:    o.MaxTokens,
		TopP:          o.TopP,
		TopK:          o.TopK,
		RepeatPenalty: o.RepeatPenalty,
		Seed:          o.Seed,
		Stop:          o.Stop,
	}
}

// ChatStream streams /api/chat, calling handler once per decoded line.
func (c *Client) ChatStream(ctx context.Context, request *ports.ChatRequest, handler ports.StreamHandler) error {
	body := chatRequest{
		Model:    request.Model,
		Messages: request.Messages,
		Stream:   true,
		Options:  toChatOptions(request.Options),
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var line chatChunk
		if err := decoder.Decode(&line); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, io.EOF) {
				return ErrIncompleteStream
			}
			return fmt.Errorf("failed to decode chat chunk: %w", err)
		}
		if line.Error != "" {
			// Errors after the 200 header arrive in the body.
			return &apperr.BackendError{Code: http.StatusInternalServerError, Message: line.Error}
		}

		chunk := &ports.StreamChunk{
			Delta:      line.Message.Content,
			Done:       line.Done,
			DoneReason: line.DoneReason,
		}
		if line.Done {
			chunk.Usage = &ports.TokenUsage{
				PromptTokens:     line.PromptEvalCount,
				CompletionTokens: line.EvalCount,
				EvalDuration:     time.Duration(line.EvalDuration),
				TotalDuration:    time.Duration(line.TotalDuration),
			}
		}

		if err := handler(chunk); err != nil {
			return err
		}
		if line.Done {
			return nil
		}
	}
}
