package entities

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamachat/internal/domain/apperr"
)

func TestNewConversation_DefaultTitle(t *testing.T) {
	conv := NewConversation("", DefaultSystemPromptID)

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, DefaultConversationTitle, conv.Title)
	assert.True(t, conv.HasDefaultTitle())
	assert.True(t, conv.IsEmpty())
	assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)
}

func TestConversation_RemoveMessagesKeepsOrder(t *testing.T) {
	conv := NewConversation("t", "")
	for _, id := range []string{"a", "b", "c", "d"} {
		conv.AddMessage(id)
	}

	conv.RemoveMessages("b", "d")

	assert.Equal(t, []string{"a", "c"}, conv.MessageIDs)
	assert.Equal(t, 1, conv.IndexOf("c"))
	assert.Equal(t, -1, conv.IndexOf("b"))
}

func TestTitleFromMessage(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "Hello there", "Hello there"},
		{"trimmed", "  padded  ", "padded"},
		{"long", strings.Repeat("x", 60), strings.Repeat("x", 50) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleFromMessage(tt.content))
		})
	}
}

func TestMessage_EditKeepsCreatedAt(t *testing.T) {
	created := time.Now().Add(-time.Hour)
	msg := NewMessage("c1", RoleUser, "before")
	msg.CreatedAt = created

	msg.Edit("after")

	assert.Equal(t, "after", msg.Content)
	assert.Equal(t, StatusEdited, msg.Status)
	assert.Equal(t, created, msg.CreatedAt)
	require.NotNil(t, msg.EditedAt)
}

func TestMessage_FailDiscardsPartialText(t *testing.T) {
	msg := NewPlaceholder("c1", "llama2", "u1")
	msg.Content = "partial garb"
	msg.TokenCount = 3

	msg.Fail("llama2 failed: timed out", "timeout")

	assert.Equal(t, StatusFailed, msg.Status)
	assert.Equal(t, "llama2 failed: timed out", msg.Content)
	assert.Equal(t, 0, msg.TokenCount)
	assert.Equal(t, "u1", msg.Parent())
}

func TestMessage_CloneIsDeep(t *testing.T) {
	msg := NewPlaceholder("c1", "llama2", "u1")
	cp := msg.Clone()
	*cp.ParentID = "other"

	assert.Equal(t, "u1", msg.Parent())
}

func TestGenerationOptions_Validate(t *testing.T) {
	seven := 7
	tests := []struct {
		name    string
		mutate  func(o *GenerationOptions)
		wantErr bool
	}{
		{"defaults", func(o *GenerationOptions) {}, false},
		{"temperature too high", func(o *GenerationOptions) { o.Temperature = 2.5 }, true},
		{"negative temperature", func(o *GenerationOptions) { o.Temperature = -0.1 }, true},
		{"zero max tokens", func(o *GenerationOptions) { o.MaxTokens = 0 }, true},
		{"top_p above one", func(o *GenerationOptions) { o.TopP = 1.2 }, true},
		{"top_k zero", func(o *GenerationOptions) { o.TopK = 0 }, true},
		{"repeat penalty low", func(o *GenerationOptions) { o.RepeatPenalty = 0.2 }, true},
		{"too many stops", func(o *GenerationOptions) { o.Stop = []string{"a", "b", "c", "d", "e"} }, true},
		{"seed allowed", func(o *GenerationOptions) { o.Seed = &seven }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultGenerationOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrInvalidOptions))
		})
	}
}

func TestOptionsPatch_Apply(t *testing.T) {
	temp := 1.5
	patch := &OptionsPatch{Temperature: &temp}

	got := patch.Apply(DefaultGenerationOptions())

	assert.Equal(t, 1.5, got.Temperature)
	assert.Equal(t, 1000, got.MaxTokens)

	var nilPatch *OptionsPatch
	assert.Equal(t, DefaultGenerationOptions(), nilPatch.Apply(DefaultGenerationOptions()))
}

func TestBenchmarkSample_TokensPerSecond(t *testing.T) {
	tests := []struct {
		name   string
		sample BenchmarkSample
		want   float64
		ok     bool
	}{
		{"ok sample", BenchmarkSample{Outcome: OutcomeOK, OutputTokens: 50, TotalDuration: 2 * time.Second}, 25, true},
		{"zero duration", BenchmarkSample{Outcome: OutcomeOK, OutputTokens: 50}, 0, false},
		{"timeout", BenchmarkSample{Outcome: OutcomeTimeout, OutputTokens: 50, TotalDuration: time.Second}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.sample.TokensPerSecond()
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestComparisonRun_StatusProgression(t *testing.T) {
	run := NewComparisonRun("r1", "c1", "u1", map[string]string{"llama2": "m1", "mistral": "m2"})
	assert.Equal(t, RunRunning, run.Status)

	run.Finish(Candidate{Model: "llama2", MessageID: "m1", Status: StatusComplete, TotalDuration: 2 * time.Second})
	assert.Equal(t, RunPartial, run.Status)

	run.Finish(Candidate{Model: "mistral", MessageID: "m2", Status: StatusFailed, Reason: "timeout"})
	assert.Equal(t, RunComplete, run.Status)
	assert.False(t, run.FinishedAt.IsZero())
}

func TestSelectors(t *testing.T) {
	completed := []Candidate{
		{Model: "a", Status: StatusComplete, TotalDuration: 3 * time.Second},
		{Model: "b", Status: StatusComplete, TotalDuration: time.Second},
	}

	assert.Equal(t, "b", FastestOK(completed))
	assert.Equal(t, "", FastestOK(nil))
	assert.Equal(t, "a", UserChoice("a")(completed))
	assert.Equal(t, "", UserChoice("zzz")(completed))
	assert.Equal(t, "", SelectorByName("none", "")(completed))
}

func TestComparisonRun_SelectBestIgnoresFailures(t *testing.T) {
	run := NewComparisonRun("r1", "c1", "u1", map[string]string{"fast": "m1", "slow": "m2"})
	run.Finish(Candidate{Model: "fast", Status: StatusFailed, TotalDuration: time.Millisecond})
	run.Finish(Candidate{Model: "slow", Status: StatusComplete, TotalDuration: time.Second})

	assert.Equal(t, "slow", run.SelectBest(nil))
	assert.Equal(t, "slow", run.Best)
}

func TestPartialOutput_Label(t *testing.T) {
	assert.Equal(t, "ok", PartialOutput{Done: true, Status: TerminalOK}.Label())
	assert.Equal(t, "error:backend:500", PartialOutput{Done: true, Status: TerminalError, Reason: "backend:500"}.Label())
	assert.Equal(t, OutcomeCancelled, TerminalCancelled.Outcome())
	assert.Equal(t, OutcomeError, TerminalError.Outcome())
}

func TestDefaultSystemPrompts(t *testing.T) {
	prompts := DefaultSystemPrompts()

	require.Len(t, prompts, 11)
	assert.Equal(t, DefaultSystemPromptID, prompts[0].ID)
	assert.True(t, prompts[0].IsEmpty())
	assert.Equal(t, "code-expert", prompts[1].ID)
}
