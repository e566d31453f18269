package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ollamachat/internal/domain/entities"
)

func TestEncodingForModel(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"llama3.2:latest", "cl100k_base"},
		{"qwen3:0.6b", "cl100k_base"},
		{"gpt-4o-mini", "o200k_base"},
		{"text-davinci-003", "p50k_base"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, EncodingForModel(tt.model))
		})
	}
}

func TestApproximate_CountTokens(t *testing.T) {
	var a Approximate
	assert.Equal(t, 0, a.CountTokens(""))
	assert.Equal(t, 1, a.CountTokens("hi"))
	assert.Equal(t, 3, a.CountTokens("hello world"))
	assert.Equal(t, 1, a.CountTokens("héé"))
}

// The BPE ranks are fetched on first use; skip when they are unavailable.
func newTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := NewTokenizer("llama3")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	return tok
}

func TestTokenizer_Counts(t *testing.T) {
	tok := newTestTokenizer(t)

	assert.Equal(t, 0, tok.CountTokens(""))
	assert.Greater(t, tok.CountTokens("The quick brown fox"), 0)

	msg := entities.NewMessage("c1", entities.RoleUser, "The quick brown fox")
	assert.Equal(t, tok.CountTokens(msg.Content)+tok.CountTokens("user")+messageOverhead, tok.CountMessageTokens(msg))

	total := tok.CountConversationTokens([]*entities.Message{msg}, "Be brief.")
	assert.Greater(t, total, tok.CountMessageTokens(msg))
}

func TestTokenizer_TruncateToTokenLimit(t *testing.T) {
	tok := newTestTokenizer(t)

	text := "one two three four five six seven eight nine ten"
	assert.Equal(t, "", tok.TruncateToTokenLimit(text, 0))
	assert.Equal(t, text, tok.TruncateToTokenLimit(text, 1000))
	assert.LessOrEqual(t, tok.CountTokens(tok.TruncateToTokenLimit(text, 3)), 3)
}
