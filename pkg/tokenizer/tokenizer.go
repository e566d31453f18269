// Package tokenizer estimates token counts for backends that do not report them.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"ollamachat/internal/domain/entities"
)

// Per-message framing the chat templates add around role and content.
const (
	messageOverhead      = 4
	conversationOverhead = 2
)

// Tokenizer counts tokens with a tiktoken encoding.
type Tokenizer struct {
	encoding     *tiktoken.Tiktoken
	encodingName string
}

// EncodingForModel picks the tiktoken encoding that best approximates model.
// Local models have their own vocabularies; cl100k_base is a close enough
// estimate for throughput figures.
func EncodingForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "o1"):
		return "o200k_base"
	case strings.Contains(model, "davinci"):
		return "p50k_base"
	default:
		return "cl100k_base"
	}
}

// NewTokenizer loads the encoding for model.
func NewTokenizer(model string) (*Tokenizer, error) {
	name := EncodingForModel(model)
	encoding, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding %s: %w", name, err)
	}
	return &Tokenizer{encoding: encoding, encodingName: name}, nil
}

// Encoding returns the encoding name in use.
func (t *Tokenizer) Encoding() string {
	return t.encodingName
}

// CountTokens counts tokens in a text string
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// CountMessageTokens counts a message including role framing.
func (t *Tokenizer) CountMessageTokens(message *entities.Message) int {
	if message == nil {
		return 0
	}
	return t.CountTokens(message.Content) + t.CountTokens(string(message.Role)) + messageOverhead
}

// CountConversationTokens estimates the prompt size of a chat request.
func (t *Tokenizer) CountConversationTokens(messages []*entities.Message, systemPrompt string) int {
	total := conversationOverhead
	if systemPrompt != "" {
		total += t.CountTokens(systemPrompt) + messageOverhead
	}
	for _, m := range messages {
		total += t.CountMessageTokens(m)
	}
	return total
}

// TruncateToTokenLimit cuts text to at most maxTokens tokens.
func (t *Tokenizer) TruncateToTokenLimit(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.encoding.Decode(tokens[:maxTokens])
}

// Approximate counts roughly four characters per token. It stands in when
// no BPE ranks can be loaded.
type Approximate struct{}

// CountTokens implements ports.TokenCounter.
func (Approximate) CountTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Counter is the subset of Tokenizer the services depend on.
type Counter interface {
	CountTokens(text string) int
}

// NewCounter returns a tiktoken counter, or Approximate when the encoding
// cannot be loaded (for example when offline).
func NewCounter(model string) (Counter, error) {
	t, err := NewTokenizer(model)
	if err != nil {
		return Approximate{}, err
	}
	return t, nil
}
