package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamachat/internal/adapters/storage/memory"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/metrics"
	"ollamachat/internal/domain/ports"
	"ollamachat/internal/domain/services"
	"ollamachat/internal/pkg/logutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeServer answers every chat with "Hello there" and lists two models.
type fakeServer struct{}

var (
	_ ports.ChatBackend = (*fakeServer)(nil)
	_ ports.ModelLister = (*fakeServer)(nil)
)

func (fakeServer) ChatStream(ctx context.Context, req *ports.ChatRequest, handler ports.StreamHandler) error {
	for _, chunk := range []ports.StreamChunk{
		{Delta: "Hello"},
		{Delta: " there"},
		{Done: true, Usage: &ports.TokenUsage{PromptTokens: 3, CompletionTokens: 2}},
	} {
		c := chunk
		if err := handler(&c); err != nil {
			return err
		}
	}
	return nil
}

func (fakeServer) Ping(ctx context.Context) error { return nil }

func (fakeServer) ListModels(ctx context.Context) ([]ports.ModelSummary, error) {
	return []ports.ModelSummary{{Name: "llama3:8b"}, {Name: "mistral"}}, nil
}

type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

type envelope struct {
	Success bool                   `json:"success"`
	Data    json.RawMessage        `json:"data"`
	Error   string                 `json:"error"`
	Meta    map[string]interface{} `json:"meta"`
}

type apiFixture struct {
	router *gin.Engine
	store  *services.ConversationStore
	checks map[string]HealthCheck
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	nop := logutil.NewNopLogger()

	store := services.NewConversationStore(memory.NewAdapter(), 50, time.Second, nop)
	_, err := store.SeedPrompts(ctx)
	require.NoError(t, err)

	backend := fakeServer{}
	registry := services.NewModelRegistry(backend, backend, nil, services.RegistryConfig{DefaultHost: "localhost", DefaultPort: 11434}, nop)
	collector := metrics.NewBenchmarkCollector(20)
	analytics := metrics.NewAnalyticsAggregator(64, nop)
	analytics.Start(ctx)

	client := services.NewModelClient(registry, wordCounter{}, ports.SampleRecorders{collector, registry, analytics}, time.Second, nop)
	orch := services.NewSessionOrchestrator(store, client, registry, nil, wordCounter{}, services.OrchestratorConfig{}, nop)
	orch.AddObserver(analytics)

	f := &apiFixture{store: store, checks: map[string]HealthCheck{
		"storage": func(ctx context.Context) error { return nil },
	}}
	handlers := NewAPIHandlers(Dependencies{
		Store:        store,
		Orchestrator: orch,
		Registry:     registry,
		Benchmarker:  services.NewBenchmarker(client, services.BenchmarkConfig{Iterations: 2}, nop),
		Collector:    collector,
		Analytics:    analytics,
		Checks:       f.checks,
	}, nop)

	f.router = gin.New()
	handlers.SetupRoutes(f.router)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (f *apiFixture) createConversation(t *testing.T) *entities.Conversation {
	t.Helper()
	w, env := f.do(t, http.MethodPost, "/api/v1/conversations", gin.H{"title": "Test"})
	require.Equal(t, http.StatusCreated, w.Code)
	return decode[*entities.Conversation](t, env.Data)
}

func (f *apiFixture) submitTurn(t *testing.T, convID string, content string, models ...string) *services.TurnResult {
	t.Helper()
	w, env := f.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/turns", gin.H{
		"content": content,
		"models":  models,
	})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	return decode[*services.TurnResult](t, env.Data)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	f.checks["storage"] = func(ctx context.Context) error { return errors.New("disk gone") }
	w, _ = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "disk gone")
}

func TestConversationCRUD(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t)
	assert.Equal(t, "Test", conv.Title)

	w, env := f.do(t, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]*entities.Conversation](t, env.Data), 1)
	assert.Equal(t, float64(1), env.Meta["total"])

	w, env = f.do(t, http.MethodPut, "/api/v1/conversations/"+conv.ID, gin.H{"title": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", decode[*entities.Conversation](t, env.Data).Title)

	w, _ = f.do(t, http.MethodDelete, "/api/v1/conversations/"+conv.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
}

func TestSubmitTurn(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t)

	result := f.submitTurn(t, conv.ID, "hi there", "llama3:8b")
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "Hello there", result.Messages[0].Content)
	assert.Equal(t, entities.StatusComplete, result.Messages[0].Status)

	w, env := f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]*entities.Message](t, env.Data), 2)
}

func TestSubmitTurn_Compare(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t)

	w, env := f.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/turns", gin.H{
		"content":         "which is better?",
		"models":          []string{"llama3:8b", "mistral"},
		"selector":        "user",
		"preferred_model": "mistral",
	})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	result := decode[*services.TurnResult](t, env.Data)
	require.Len(t, result.Messages, 2)
	require.NotNil(t, result.Run)
	assert.Equal(t, "mistral", result.Run.Best)
}

func TestSubmitTurn_Rejected(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t)

	tests := []struct {
		name   string
		path   string
		body   gin.H
		status int
	}{
		{"missing content", conv.ID, gin.H{"models": []string{"llama3:8b"}}, http.StatusBadRequest},
		{"no models", conv.ID, gin.H{"content": "hi", "models": []string{}}, http.StatusBadRequest},
		{"bad temperature", conv.ID, gin.H{"content": "hi", "models": []string{"mistral"}, "options": gin.H{"temperature": 5}}, http.StatusBadRequest},
		{"unknown conversation", "nope", gin.H{"content": "hi", "models": []string{"mistral"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := f.do(t, http.MethodPost, "/api/v1/conversations/"+tt.path+"/turns", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestSubmitTurn_Async(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t)

	w, env := f.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/turns?async=true", gin.H{
		"turn_id": "turn-42",
		"content": "hi",
		"models":  []string{"mistral"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "turn-42", decode[map[string]string](t, env.Data)["turn_id"])

	assert.Eventually(t, func() bool {
		history, err := f.store.History(context.Background(), conv.ID)
		return err == nil && len(history) == 2 && history[1].Status == entities.StatusComplete
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRuns(t *testing.T) {
	f := newAPIFixture(t)

	w, env := f.do(t, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), env.Meta["count"])

	w, _ = f.do(t, http.MethodDelete, "/api/v1/runs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegenerateEditAndPin(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t)
	first := f.submitTurn(t, conv.ID, "hi", "llama3:8b")
	answer := first.Messages[0]

	w, env := f.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/regenerate", gin.H{"message_id": answer.ID})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	regen := decode[*services.TurnResult](t, env.Data)
	require.Len(t, regen.Messages, 1)
	assert.Equal(t, "llama3:8b", regen.Messages[0].Model)
	assert.Equal(t, first.UserMessage.ID, regen.Messages[0].Parent())

	other := f.createConversation(t)
	w, _ = f.do(t, http.MethodPost, "/api/v1/conversations/"+other.ID+"/regenerate", gin.H{"message_id": answer.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = f.do(t, http.MethodPut, "/api/v1/messages/"+first.UserMessage.ID, gin.H{"content": "hello again"})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	edited := decode[*services.TurnResult](t, env.Data)
	assert.Equal(t, "hello again", edited.UserMessage.Content)
	assert.Equal(t, entities.StatusEdited, edited.UserMessage.Status)

	w, env = f.do(t, http.MethodPut, "/api/v1/messages/"+answer.ID+"/pin", gin.H{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[*entities.Message](t, env.Data).Pinned)

	w, env = f.do(t, http.MethodPut, "/api/v1/messages/"+answer.ID+"/pin", gin.H{"pinned": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[*entities.Message](t, env.Data).Pinned)
}

func TestSearchAndExport(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.createConversation(t)
	f.submitTurn(t, conv.ID, "tell me something", "mistral")

	w, env := f.do(t, http.MethodGet, "/api/v1/search?q=HELLO", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hits := decode[[]services.SearchHit](t, env.Data)
	require.Len(t, hits, 1)
	assert.Equal(t, "Hello there", hits[0].Message.Content)

	w, _ = f.do(t, http.MethodGet, "/api/v1/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), conv.ID)
	transcript := decode[*entities.Transcript](t, env.Data)
	assert.Len(t, transcript.Messages, 2)
	require.NotNil(t, transcript.SystemPrompt)
}

func TestExportAllAndClearAll(t *testing.T) {
	f := newAPIFixture(t)
	first := f.createConversation(t)
	second := f.createConversation(t)
	f.submitTurn(t, first.ID, "hi", "mistral")

	w, env := f.do(t, http.MethodGet, "/api/v1/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[[]*entities.Transcript](t, env.Data)
	require.Len(t, all, 2)
	assert.Equal(t, float64(2), env.Meta["count"])

	w, env = f.do(t, http.MethodGet, "/api/v1/export?ids="+first.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	picked := decode[[]*entities.Transcript](t, env.Data)
	require.Len(t, picked, 1)
	assert.Len(t, picked[0].Messages, 2)

	w, _ = f.do(t, http.MethodGet, "/api/v1/export?ids="+second.ID+",missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodDelete, "/api/v1/conversations", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "confirmation required")

	w, env = f.do(t, http.MethodDelete, "/api/v1/conversations?confirm=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode[map[string]interface{}](t, env.Data)["deleted"])

	w, env = f.do(t, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]*entities.Conversation](t, env.Data))
}

func TestSystemPrompts(t *testing.T) {
	f := newAPIFixture(t)

	w, env := f.do(t, http.MethodGet, "/api/v1/system-prompts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	seeded := len(decode[[]*entities.SystemPrompt](t, env.Data))
	assert.Positive(t, seeded)

	w, env = f.do(t, http.MethodPost, "/api/v1/system-prompts", gin.H{"name": "Pirate", "content": "Talk like a pirate."})
	require.Equal(t, http.StatusCreated, w.Code)
	prompt := decode[*entities.SystemPrompt](t, env.Data)

	w, env = f.do(t, http.MethodPut, "/api/v1/system-prompts/"+prompt.ID, gin.H{"name": "Captain", "content": "Arr."})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Captain", decode[*entities.SystemPrompt](t, env.Data).Name)

	w, _ = f.do(t, http.MethodPost, "/api/v1/system-prompts", gin.H{"content": "no name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodDelete, "/api/v1/system-prompts/"+prompt.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = f.do(t, http.MethodGet, "/api/v1/system-prompts/"+prompt.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModels(t *testing.T) {
	f := newAPIFixture(t)

	w, env := f.do(t, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	models := decode[[]entities.ModelEndpoint](t, env.Data)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3:8b", models[0].Name)
	assert.True(t, models[0].Available)

	w, _ = f.do(t, http.MethodPost, "/api/v1/models/refresh", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// The fake server lists models but cannot administer them.
	for _, path := range []string{"/api/v1/models/llama3:8b", "/api/v1/models/running", "/api/v1/models/version"} {
		w, _ = f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotImplemented, w.Code, path)
	}

	w, _ = f.do(t, http.MethodPost, "/api/v1/models/pull", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/models/llama3:8b/keep-alive", gin.H{"duration": "soon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodPost, "/api/v1/models/llama3:8b/keep-alive", gin.H{"duration": "30m"})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestBenchmarksAndAnalytics(t *testing.T) {
	f := newAPIFixture(t)

	w, env := f.do(t, http.MethodPost, "/api/v1/benchmarks", gin.H{"models": []string{"mistral"}, "iterations": 2})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	reports := decode[[]*services.BenchmarkReport](t, env.Data)
	require.Len(t, reports, 1)
	assert.Len(t, reports[0].Iterations, 2)
	assert.Equal(t, 2, reports[0].Summary.Count)

	w, _ = f.do(t, http.MethodPost, "/api/v1/benchmarks", gin.H{"models": []string{"mistral"}, "iterations": 100})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = f.do(t, http.MethodGet, "/api/v1/benchmarks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summaries := decode[[]metrics.Summary](t, env.Data)
	require.Len(t, summaries, 1)
	assert.Equal(t, "mistral", summaries[0].Model)

	w, env = f.do(t, http.MethodGet, "/api/v1/benchmarks/mistral?samples=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[struct {
		Summary metrics.Summary            `json:"summary"`
		Samples []entities.BenchmarkSample `json:"samples"`
	}](t, env.Data)
	assert.Equal(t, 2, detail.Summary.Count)
	assert.Len(t, detail.Samples, 2)

	w, env = f.do(t, http.MethodGet, "/api/v1/analytics?sync=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[metrics.Report](t, env.Data)
	assert.Equal(t, 2, report.RequestsByModel["mistral"])
	assert.Empty(t, report.TokensByModel)

	w, env = f.do(t, http.MethodPost, "/api/v1/benchmarks/llama3:8b", gin.H{"iterations": 1, "prompt": "ping"})
	require.Equal(t, http.StatusOK, w.Code, env.Error)
	single := decode[*services.BenchmarkReport](t, env.Data)
	assert.Equal(t, "llama3:8b", single.Model)
	assert.Equal(t, "ping", single.Prompt)
	assert.Len(t, single.Iterations, 1)
}
