package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/ports"
)

// fakeBackend replays scripted chunks. With hang set it blocks after the
// script until the context ends.
type fakeBackend struct {
	chunks []ports.StreamChunk
	delay  time.Duration
	err    error
	hang   bool

	mu       sync.Mutex
	requests []*ports.ChatRequest
}

var _ ports.ChatBackend = (*fakeBackend)(nil)

func okBackend(deltas ...string) *fakeBackend {
	b := &fakeBackend{}
	for _, d := range deltas {
		b.chunks = append(b.chunks, ports.StreamChunk{Delta: d})
	}
	b.chunks = append(b.chunks, ports.StreamChunk{
		Done:  true,
		Usage: &ports.TokenUsage{PromptTokens: 5, CompletionTokens: len(deltas)},
	})
	return b
}

func (b *fakeBackend) ChatStream(ctx context.Context, req *ports.ChatRequest, handler ports.StreamHandler) error {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	for i := range b.chunks {
		if b.delay > 0 {
			select {
			case <-time.After(b.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		chunk := b.chunks[i]
		if err := handler(&chunk); err != nil {
			return err
		}
	}
	if b.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return b.err
}

func (b *fakeBackend) Ping(ctx context.Context) error {
	return nil
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func (b *fakeBackend) lastRequest() *ports.ChatRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return nil
	}
	return b.requests[len(b.requests)-1]
}

type fakeResolver map[string]ports.ChatBackend

var _ ports.BackendResolver = fakeResolver(nil)

func (r fakeResolver) Resolve(model string) (ports.ChatBackend, error) {
	if b, ok := r[model]; ok {
		return b, nil
	}
	return nil, apperr.NotFound("model", model)
}

// wordCounter counts whitespace separated words.
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

type sampleLog struct {
	mu      sync.Mutex
	samples []entities.BenchmarkSample
}

var _ ports.SampleRecorder = (*sampleLog)(nil)

func (l *sampleLog) Record(s entities.BenchmarkSample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, s)
}

func (l *sampleLog) all() []entities.BenchmarkSample {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]entities.BenchmarkSample(nil), l.samples...)
}

// drain reads a stream to completion and splits deltas from the terminal marker.
func drain(t *testing.T, ch <-chan entities.PartialOutput) ([]entities.PartialOutput, entities.PartialOutput) {
	t.Helper()
	var deltas []entities.PartialOutput
	var final entities.PartialOutput
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return deltas, final
			}
			if p.Done {
				final = p
				continue
			}
			deltas = append(deltas, p)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func userMsg(conv, content string) *entities.Message {
	m := entities.NewMessage(conv, entities.RoleUser, content)
	m.ID = fmt.Sprintf("u-%s", content)
	return m
}

func testOptions() entities.GenerationOptions {
	return entities.DefaultGenerationOptions()
}
