package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/pkg/constants"
	"ollamachat/internal/pkg/logutil"
)

func newTestBenchmarker(backends fakeResolver, samples *sampleLog) *Benchmarker {
	client := NewModelClient(backends, wordCounter{}, samples, time.Second, logutil.NewNopLogger())
	return NewBenchmarker(client, BenchmarkConfig{}, logutil.NewNopLogger())
}

func TestBenchmarker_Defaults(t *testing.T) {
	backend := okBackend("I'm", " fine")
	samples := &sampleLog{}
	b := newTestBenchmarker(fakeResolver{"llama3": backend}, samples)

	report, err := b.Benchmark(context.Background(), "llama3", "", 0)
	require.NoError(t, err)

	assert.Equal(t, "llama3", report.Model)
	assert.Equal(t, constants.DefaultBenchmarkPrompt, report.Prompt)
	require.Len(t, report.Iterations, constants.DefaultBenchmarkIterations)
	for _, it := range report.Iterations {
		assert.Equal(t, entities.TerminalOK, it.Status)
		assert.Equal(t, "I'm fine", it.Response)
		assert.Equal(t, 2, it.OutputTokens)
	}
	assert.Equal(t, constants.DefaultBenchmarkIterations, report.Summary.Count)
	assert.Zero(t, report.Summary.ErrorRate)

	assert.Equal(t, constants.DefaultBenchmarkIterations, backend.calls())
	req := backend.lastRequest()
	assert.Equal(t, constants.DefaultBenchmarkMaxTokens, req.Options.MaxTokens)
	assert.Equal(t, 0.7, req.Options.Temperature)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, constants.DefaultBenchmarkPrompt, req.Messages[0].Content)

	assert.Len(t, samples.all(), constants.DefaultBenchmarkIterations)
}

func TestBenchmarker_FailedIterationsCountAsErrors(t *testing.T) {
	backend := &fakeBackend{err: &apperr.BackendError{Code: 500}}
	b := newTestBenchmarker(fakeResolver{"bad": backend}, &sampleLog{})

	report, err := b.Benchmark(context.Background(), "bad", "ping", 2)
	require.NoError(t, err)

	require.Len(t, report.Iterations, 2)
	assert.Equal(t, entities.TerminalError, report.Iterations[0].Status)
	assert.Equal(t, "backend:500", report.Iterations[0].Reason)
	assert.Equal(t, 1.0, report.Summary.ErrorRate)
}

func TestBenchmarker_Validation(t *testing.T) {
	b := newTestBenchmarker(fakeResolver{"a": okBackend("x")}, &sampleLog{})
	ctx := context.Background()

	_, err := b.Benchmark(ctx, " ", "", 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidTurn)

	_, err = b.Benchmark(ctx, "a", "", MaxBenchmarkIterations+1)
	assert.ErrorIs(t, err, apperr.ErrInvalidTurn)

	_, err = b.Benchmark(ctx, "ghost", "", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = b.Compare(ctx, BenchmarkRequest{})
	assert.ErrorIs(t, err, apperr.ErrInvalidTurn)

	_, err = b.Compare(ctx, BenchmarkRequest{Models: []string{"a", "b", "c", "d", "e"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidTurn)

	badTopP := 3.0
	_, err = b.Compare(ctx, BenchmarkRequest{Models: []string{"a"}, Options: &entities.OptionsPatch{TopP: &badTopP}})
	assert.ErrorIs(t, err, apperr.ErrInvalidOptions)
}

func TestBenchmarker_Compare(t *testing.T) {
	fast := okBackend("a")
	slow := okBackend("b")
	slow.delay = 10 * time.Millisecond
	b := newTestBenchmarker(fakeResolver{"zeta": slow, "alpha": fast}, &sampleLog{})

	reports, err := b.Compare(context.Background(), BenchmarkRequest{
		Models:     []string{"zeta", "alpha", "zeta"},
		Prompt:     "hi",
		Iterations: 2,
	})
	require.NoError(t, err)

	require.Len(t, reports, 2)
	assert.Equal(t, "alpha", reports[0].Model)
	assert.Equal(t, "zeta", reports[1].Model)
	for _, r := range reports {
		assert.Equal(t, "hi", r.Prompt)
		assert.Len(t, r.Iterations, 2)
	}
	assert.Equal(t, 2, fast.calls())
	assert.Equal(t, 2, slow.calls())
}

func TestBenchmarker_CancelledContext(t *testing.T) {
	b := newTestBenchmarker(fakeResolver{"a": okBackend("x")}, &sampleLog{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Benchmark(ctx, "a", "", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
