package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/ports"
	"ollamachat/internal/pkg/logutil"
)

func newTestModelClient(backends fakeResolver, recorder ports.SampleRecorder, idle time.Duration) *ModelClient {
	return NewModelClient(backends, wordCounter{}, recorder, idle, logutil.NewNopLogger())
}

func streamRequest(model string) StreamRequest {
	return StreamRequest{
		Model:          model,
		History:        []*entities.Message{userMsg("c1", "hello")},
		SystemPrompt:   "be brief",
		Options:        testOptions(),
		ConversationID: "c1",
	}
}

func TestModelClient_Stream(t *testing.T) {
	backend := okBackend("Hel", "lo", "!")
	samples := &sampleLog{}
	client := newTestModelClient(fakeResolver{"llama3": backend}, samples, time.Second)

	ch, err := client.Stream(context.Background(), streamRequest("llama3"))
	require.NoError(t, err)
	deltas, final := drain(t, ch)

	require.Len(t, deltas, 3)
	for i, d := range deltas {
		assert.Equal(t, i, d.Seq)
		assert.False(t, d.Timestamp.IsZero())
	}
	assert.Equal(t, "Hel", deltas[0].Delta)

	assert.True(t, final.Done)
	assert.Equal(t, 3, final.Seq)
	assert.Equal(t, entities.TerminalOK, final.Status)
	assert.Equal(t, "ok", final.Label())
	assert.Equal(t, 3, final.OutputTokens)
	assert.Equal(t, 5, final.PromptTokens)
	assert.Greater(t, final.TTFT, time.Duration(0))

	got := samples.all()
	require.Len(t, got, 1)
	assert.Equal(t, "llama3", got[0].Model)
	assert.Equal(t, "c1", got[0].ConversationID)
	assert.Equal(t, entities.OutcomeOK, got[0].Outcome)
	assert.NotEmpty(t, got[0].RequestID)

	req := backend.lastRequest()
	require.NotNil(t, req)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "be brief", req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)
}

func TestModelClient_SampleRecordedBeforeTerminal(t *testing.T) {
	samples := &sampleLog{}
	client := newTestModelClient(fakeResolver{"m": okBackend("a")}, samples, time.Second)

	ch, err := client.Stream(context.Background(), streamRequest("m"))
	require.NoError(t, err)

	for p := range ch {
		if p.Done {
			assert.Len(t, samples.all(), 1, "sample must exist when the terminal marker arrives")
		}
	}
}

func TestModelClient_SynchronousValidation(t *testing.T) {
	badOptions := streamRequest("m")
	badOptions.Options.Temperature = 3

	emptyHistory := streamRequest("m")
	emptyHistory.History = nil

	endsWithAssistant := streamRequest("m")
	endsWithAssistant.History = append(endsWithAssistant.History, entities.NewMessage("c1", entities.RoleAssistant, "hi"))

	tests := []struct {
		name    string
		req     StreamRequest
		wantErr error
	}{
		{"options out of range", badOptions, apperr.ErrInvalidOptions},
		{"empty history", emptyHistory, apperr.ErrInvalidHistory},
		{"history ends with assistant", endsWithAssistant, apperr.ErrInvalidHistory},
		{"unknown model", streamRequest("missing"), apperr.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := okBackend("x")
			samples := &sampleLog{}
			client := newTestModelClient(fakeResolver{"m": backend}, samples, time.Second)

			ch, err := client.Stream(context.Background(), tt.req)
			assert.Nil(t, ch)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, backend.calls())
			assert.Empty(t, samples.all())
		})
	}
}

func TestModelClient_OptionsErrorListsProblems(t *testing.T) {
	req := streamRequest("m")
	req.Options.Temperature = -1
	req.Options.TopK = 0

	_, err := newTestModelClient(fakeResolver{}, nil, time.Second).Stream(context.Background(), req)

	var optErr *apperr.OptionsError
	require.True(t, errors.As(err, &optErr))
	assert.Len(t, optErr.Problems, 2)
}

func TestModelClient_BackendFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus entities.TerminalStatus
		wantLabel  string
	}{
		{"backend status", &apperr.BackendError{Code: 404, Message: "model not found"}, entities.TerminalError, "error:backend:404"},
		{"unwrapped transport error", errors.New("dial tcp: connection refused"), entities.TerminalError, "error:invalid_response"},
		{"wrapped unreachable", errors.Join(apperr.ErrUnreachable, errors.New("dial tcp")), entities.TerminalError, "error:unreachable"},
		{"malformed stream", errors.New("failed to decode chat chunk"), entities.TerminalError, "error:invalid_response"},
		{"backend deadline", context.DeadlineExceeded, entities.TerminalTimeout, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := &sampleLog{}
			backend := &fakeBackend{err: tt.err}
			client := newTestModelClient(fakeResolver{"m": backend}, samples, time.Second)

			ch, err := client.Stream(context.Background(), streamRequest("m"))
			require.NoError(t, err)
			deltas, final := drain(t, ch)

			assert.Empty(t, deltas)
			assert.Equal(t, tt.wantStatus, final.Status)
			assert.Equal(t, tt.wantLabel, final.Label())

			got := samples.all()
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantStatus.Outcome(), got[0].Outcome)
		})
	}
}

func TestModelClient_IdleTimeout(t *testing.T) {
	backend := &fakeBackend{chunks: []ports.StreamChunk{{Delta: "partial"}}, hang: true}
	samples := &sampleLog{}
	client := newTestModelClient(fakeResolver{"m": backend}, samples, 50*time.Millisecond)

	ch, err := client.Stream(context.Background(), streamRequest("m"))
	require.NoError(t, err)
	deltas, final := drain(t, ch)

	assert.Len(t, deltas, 1)
	assert.Equal(t, entities.TerminalTimeout, final.Status)
	assert.Equal(t, ReasonIdle, final.Reason)
	require.Len(t, samples.all(), 1)
	assert.Equal(t, entities.OutcomeTimeout, samples.all()[0].Outcome)
}

func TestModelClient_Deadline(t *testing.T) {
	backend := &fakeBackend{hang: true}
	client := newTestModelClient(fakeResolver{"m": backend}, nil, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ch, err := client.Stream(ctx, streamRequest("m"))
	require.NoError(t, err)
	_, final := drain(t, ch)

	assert.Equal(t, entities.TerminalTimeout, final.Status)
	assert.Equal(t, ReasonDeadline, final.Reason)
}

func TestModelClient_Cancellation(t *testing.T) {
	backend := &fakeBackend{
		chunks: []ports.StreamChunk{{Delta: "first"}, {Delta: "second"}, {Delta: "third"}},
		delay:  20 * time.Millisecond,
	}
	samples := &sampleLog{}
	client := newTestModelClient(fakeResolver{"m": backend}, samples, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := client.Stream(ctx, streamRequest("m"))
	require.NoError(t, err)

	first := <-ch
	require.False(t, first.Done)
	assert.Equal(t, "first", first.Delta)
	cancel()

	deltas, final := drain(t, ch)
	assert.Empty(t, deltas, "no deltas after cancellation")
	assert.Equal(t, entities.TerminalCancelled, final.Status)
	assert.Equal(t, 1, final.Seq)

	got := samples.all()
	require.Len(t, got, 1)
	assert.Equal(t, entities.OutcomeCancelled, got[0].Outcome)
}

func TestModelClient_EstimatesMissingUsage(t *testing.T) {
	backend := &fakeBackend{chunks: []ports.StreamChunk{
		{Delta: "one two "},
		{Delta: "three"},
		{Done: true},
	}}
	client := newTestModelClient(fakeResolver{"m": backend}, nil, time.Second)

	ch, err := client.Stream(context.Background(), streamRequest("m"))
	require.NoError(t, err)
	_, final := drain(t, ch)

	assert.Equal(t, entities.TerminalOK, final.Status)
	assert.Equal(t, 3, final.OutputTokens)
	// "be brief" + "hello"
	assert.Equal(t, 3, final.PromptTokens)
}

func TestClassify(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	status, reason := classify(cancelled, context.Canceled, false)
	assert.Equal(t, entities.TerminalCancelled, status)
	assert.Empty(t, reason)

	status, reason = classify(cancelled, context.Canceled, true)
	assert.Equal(t, entities.TerminalTimeout, status)
	assert.Equal(t, ReasonIdle, reason)

	status, _ = classify(context.Background(), nil, false)
	assert.Equal(t, entities.TerminalOK, status)
}
