package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/ports"
	"ollamachat/internal/pkg/constants"
	"ollamachat/internal/pkg/logutil"
)

// Terminal reasons carried on PartialOutput.Reason.
const (
	ReasonUnreachable     = "unreachable"
	ReasonIdle            = "idle"
	ReasonDeadline        = "deadline"
	ReasonInvalidResponse = "invalid_response"
)

// streamBuffer decouples backend reads from a slow consumer.
const streamBuffer = 64

// StreamRequest describes one streamed generation call.
type StreamRequest struct {
	Model          string
	History        []*entities.Message
	SystemPrompt   string
	Options        entities.GenerationOptions
	ConversationID string
	RequestID      string
}

// ModelClient streams generations from the backend serving a model and
// records one benchmark sample per dispatched call.
type ModelClient struct {
	resolver    ports.BackendResolver
	counter     ports.TokenCounter
	recorder    ports.SampleRecorder
	idleTimeout time.Duration
	logger      *logutil.Logger
}

// NewModelClient creates a model client. recorder may be nil.
func NewModelClient(resolver ports.BackendResolver, counter ports.TokenCounter, recorder ports.SampleRecorder, idleTimeout time.Duration, logger *logutil.Logger) *ModelClient {
	if idleTimeout <= 0 {
		idleTimeout = constants.DefaultIdleTimeout
	}
	return &ModelClient{
		resolver:    resolver,
		counter:     counter,
		recorder:    recorder,
		idleTimeout: idleTimeout,
		logger:      logutil.OrGlobal(logger).Component("model_client"),
	}
}

// ValidateHistory checks that history is non-empty and ends with a user message.
func ValidateHistory(history []*entities.Message) error {
	if len(history) == 0 {
		return fmt.Errorf("%w: history is empty", apperr.ErrInvalidHistory)
	}
	if last := history[len(history)-1]; last.Role != entities.RoleUser {
		return fmt.Errorf("%w: last message has role %s, want user", apperr.ErrInvalidHistory, last.Role)
	}
	return nil
}

// Stream validates the request and starts generation. The returned channel
// yields deltas in order followed by exactly one terminal element with Done
// set, then closes. Validation failures return synchronously and dispatch
// nothing. The caller must drain the channel.
func (c *ModelClient) Stream(ctx context.Context, req StreamRequest) (<-chan entities.PartialOutput, error) {
	if err := req.Options.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateHistory(req.History); err != nil {
		return nil, err
	}

	backend, err := c.resolver.Resolve(req.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backend for %s: %w", req.Model, err)
	}
	if req.RequestID == "" {
		req.RequestID = entities.NewID()
	}

	out := make(chan entities.PartialOutput, streamBuffer)
	go c.run(ctx, backend, req, out)
	return out, nil
}

func (c *ModelClient) run(ctx context.Context, backend ports.ChatBackend, req StreamRequest, out chan<- entities.PartialOutput) {
	defer close(out)

	start := time.Now()
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idleFired atomic.Bool
	idle := time.AfterFunc(c.idleTimeout, func() {
		idleFired.Store(true)
		cancel()
	})
	defer idle.Stop()

	var (
		seq     int
		ttft    time.Duration
		content strings.Builder
		usage   *ports.TokenUsage
	)
	handler := func(chunk *ports.StreamChunk) error {
		if err := streamCtx.Err(); err != nil {
			return err
		}
		if !idle.Stop() {
			// The idle timer already fired and cancelled the stream.
			idleFired.Store(true)
			return context.Canceled
		}
		defer idle.Reset(c.idleTimeout)

		if chunk.Done {
			usage = chunk.Usage
		}
		if chunk.Delta == "" {
			return nil
		}
		if ttft == 0 {
			ttft = time.Since(start)
		}
		content.WriteString(chunk.Delta)

		select {
		case out <- entities.PartialOutput{Seq: seq, Delta: chunk.Delta, Timestamp: time.Now()}:
			seq++
			return nil
		case <-streamCtx.Done():
			return streamCtx.Err()
		}
	}

	err := backend.ChatStream(streamCtx, &ports.ChatRequest{
		Model:    req.Model,
		Messages: ports.BuildChatMessages(req.SystemPrompt, req.History),
		Options:  req.Options,
	}, handler)

	status, reason := classify(ctx, err, idleFired.Load())
	final := entities.PartialOutput{
		Seq:           seq,
		Timestamp:     time.Now(),
		Done:          true,
		Status:        status,
		Reason:        reason,
		TTFT:          ttft,
		TotalDuration: time.Since(start),
	}
	final.OutputTokens, final.PromptTokens = c.tokenCounts(req, content.String(), usage)

	sample := entities.BenchmarkSample{
		Model:          req.Model,
		RequestID:      req.RequestID,
		ConversationID: req.ConversationID,
		TTFT:           final.TTFT,
		TotalDuration:  final.TotalDuration,
		OutputTokens:   final.OutputTokens,
		PromptTokens:   final.PromptTokens,
		Outcome:        status.Outcome(),
		Reason:         reason,
		RecordedAt:     final.Timestamp,
	}
	if c.recorder != nil {
		c.recorder.Record(sample)
	}

	fields := logutil.Fields{
		"model":      req.Model,
		"request_id": req.RequestID,
		"status":     final.Label(),
		"ttft_ms":    ttft.Milliseconds(),
		"tokens":     final.OutputTokens,
	}
	if status == entities.TerminalOK {
		c.logger.Debug("Model call finished", fields)
	} else {
		fields["error"] = fmt.Sprint(err)
		c.logger.Warn("Model call failed", fields)
	}

	out <- final
}

// tokenCounts prefers backend-reported usage and estimates what is missing.
func (c *ModelClient) tokenCounts(req StreamRequest, content string, usage *ports.TokenUsage) (output, prompt int) {
	if usage != nil {
		output, prompt = usage.CompletionTokens, usage.PromptTokens
	}
	if c.counter == nil {
		return output, prompt
	}
	if output == 0 && content != "" {
		output = c.counter.CountTokens(content)
	}
	if prompt == 0 {
		prompt = c.counter.CountTokens(req.SystemPrompt)
		for _, m := range req.History {
			prompt += c.counter.CountTokens(m.Content)
		}
	}
	return output, prompt
}

// classify maps the stream result to a terminal status and reason. The
// parent context decides between cancellation and deadline; the idle flag
// wins over both since it cancels the derived context.
func classify(parent context.Context, err error, idleFired bool) (entities.TerminalStatus, string) {
	if err == nil {
		return entities.TerminalOK, ""
	}
	if idleFired {
		return entities.TerminalTimeout, ReasonIdle
	}

	switch parentErr := parent.Err(); {
	case errors.Is(parentErr, context.DeadlineExceeded):
		return entities.TerminalTimeout, ReasonDeadline
	case errors.Is(parentErr, context.Canceled):
		return entities.TerminalCancelled, ""
	}

	var be *apperr.BackendError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, apperr.ErrTimeout):
		return entities.TerminalTimeout, ReasonDeadline
	case errors.Is(err, context.Canceled), errors.Is(err, apperr.ErrCancelled):
		return entities.TerminalCancelled, ""
	case errors.As(err, &be):
		return entities.TerminalError, be.Reason()
	case errors.Is(err, apperr.ErrUnreachable):
		return entities.TerminalError, ReasonUnreachable
	default:
		return entities.TerminalError, ReasonInvalidResponse
	}
}
