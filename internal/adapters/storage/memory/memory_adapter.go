// Package memory provides an in-process StoragePort used by default and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/ports"
)

// Adapter implements the StoragePort interface in memory. Records are
// copied on the way in and out so callers never share state with the store.
type Adapter struct {
	mu            sync.RWMutex
	conversations map[string]*entities.Conversation
	messages      map[string]*entities.Message
	prompts       map[string]*entities.SystemPrompt
}

var _ ports.StoragePort = (*Adapter)(nil)

// NewAdapter creates an empty in-memory store
func NewAdapter() *Adapter {
	return &Adapter{
		conversations: make(map[string]*entities.Conversation),
		messages:      make(map[string]*entities.Message),
		prompts:       make(map[string]*entities.SystemPrompt),
	}
}

// Conversation operations
func (a *Adapter) SaveConversation(ctx context.Context, conversation *entities.Conversation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversations[conversation.ID] = conversation.Clone()
	return nil
}

func (a *Adapter) GetConversation(ctx context.Context, id string) (*entities.Conversation, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	conv, ok := a.conversations[id]
	if !ok {
		return nil, apperr.NotFound("conversation", id)
	}
	return conv.Clone(), nil
}

// ListConversations returns conversations most recently updated first.
func (a *Adapter) ListConversations(ctx context.Context) ([]*entities.Conversation, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*entities.Conversation, 0, len(a.conversations))
	for _, c := range a.conversations {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (a *Adapter) DeleteConversation(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.conversations[id]; !ok {
		return apperr.NotFound("conversation", id)
	}
	delete(a.conversations, id)
	for mid, m := range a.messages {
		if m.ConversationID == id {
			delete(a.messages, mid)
		}
	}
	return nil
}

// Message operations
func (a *Adapter) SaveMessage(ctx context.Context, message *entities.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages[message.ID] = message.Clone()
	return nil
}

func (a *Adapter) GetMessage(ctx context.Context, id string) (*entities.Message, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.messages[id]
	if !ok {
		return nil, apperr.NotFound("message", id)
	}
	return m.Clone(), nil
}

// GetMessages returns a conversation's messages oldest first.
func (a *Adapter) GetMessages(ctx context.Context, conversationID string) ([]*entities.Message, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*entities.Message
	for _, m := range a.messages {
		if m.ConversationID == conversationID {
			out = append(out, m.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (a *Adapter) DeleteMessages(ctx context.Context, ids []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		delete(a.messages, id)
	}
	return nil
}

// System prompt operations
func (a *Adapter) SaveSystemPrompt(ctx context.Context, prompt *entities.SystemPrompt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *prompt
	a.prompts[prompt.ID] = &cp
	return nil
}

func (a *Adapter) GetSystemPrompt(ctx context.Context, id string) (*entities.SystemPrompt, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.prompts[id]
	if !ok {
		return nil, apperr.NotFound("system prompt", id)
	}
	cp := *p
	return &cp, nil
}

// ListSystemPrompts returns prompts ordered by name.
func (a *Adapter) ListSystemPrompts(ctx context.Context) ([]*entities.SystemPrompt, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*entities.SystemPrompt, 0, len(a.prompts))
	for _, p := range a.prompts {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (a *Adapter) DeleteSystemPrompt(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.prompts[id]; !ok {
		return apperr.NotFound("system prompt", id)
	}
	delete(a.prompts, id)
	return nil
}

// Ping always succeeds.
func (a *Adapter) Ping(ctx context.Context) error {
	return nil
}
