package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/ports"
	"ollamachat/internal/pkg/constants"
	"ollamachat/internal/pkg/logutil"
)

// SearchHit is one message matching a search query.
type SearchHit struct {
	Conversation *entities.Conversation `json:"conversation"`
	Message      *entities.Message      `json:"message"`
}

// ConversationStore owns conversations, their ordered messages and the system
// prompt library. Mutations of one conversation are serialized by a
// per-conversation lock; different conversations proceed independently.
type ConversationStore struct {
	storage     ports.StoragePort
	maxMessages int
	lockTimeout time.Duration
	logger      *logutil.Logger

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	observersMu sync.RWMutex
	observers   []ports.ConversationObserver
}

// NewConversationStore creates a store over the given persistence adapter.
func NewConversationStore(storage ports.StoragePort, maxMessages int, lockTimeout time.Duration, logger *logutil.Logger) *ConversationStore {
	if maxMessages <= 0 {
		maxMessages = constants.DefaultMaxMessages
	}
	if lockTimeout <= 0 {
		lockTimeout = constants.DefaultLockTimeout
	}
	return &ConversationStore{
		storage:     storage,
		maxMessages: maxMessages,
		lockTimeout: lockTimeout,
		logger:      logutil.OrGlobal(logger).Component("conversation_store"),
		locks:       make(map[string]chan struct{}),
	}
}

// AddObserver registers an observer notified after conversation deletion.
func (s *ConversationStore) AddObserver(o ports.ConversationObserver) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, o)
}

// MaxMessages returns the per-conversation message cap.
func (s *ConversationStore) MaxMessages() int {
	return s.maxMessages
}

func (s *ConversationStore) lockFor(conversationID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[conversationID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[conversationID] = l
	}
	return l
}

// lock acquires the conversation lock, waiting at most lockTimeout.
func (s *ConversationStore) lock(ctx context.Context, conversationID string) (func(), error) {
	l := s.lockFor(conversationID)

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: conversation %s is busy", apperr.ErrStoreContention, conversationID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Create starts a new conversation. An empty title gets the default title
// and an empty prompt id the default prompt.
func (s *ConversationStore) Create(ctx context.Context, title, systemPromptID string) (*entities.Conversation, error) {
	if systemPromptID == "" {
		systemPromptID = entities.DefaultSystemPromptID
	} else if systemPromptID != entities.DefaultSystemPromptID {
		if _, err := s.storage.GetSystemPrompt(ctx, systemPromptID); err != nil {
			return nil, err
		}
	}

	conv := entities.NewConversation(strings.TrimSpace(title), systemPromptID)
	if err := s.storage.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}

	s.logger.Debug("Conversation created", logutil.Fields{"conversation_id": conv.ID})
	return conv, nil
}

// Get returns a conversation or an error wrapping apperr.ErrNotFound.
func (s *ConversationStore) Get(ctx context.Context, id string) (*entities.Conversation, error) {
	return s.storage.GetConversation(ctx, id)
}

// List returns all conversations, most recently active first.
func (s *ConversationStore) List(ctx context.Context) ([]*entities.Conversation, error) {
	convs, err := s.storage.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	sortByRecency(convs)
	return convs, nil
}

// Message returns one message or an error wrapping apperr.ErrNotFound.
func (s *ConversationStore) Message(ctx context.Context, id string) (*entities.Message, error) {
	return s.storage.GetMessage(ctx, id)
}

// History returns the conversation's messages in conversation order.
func (s *ConversationStore) History(ctx context.Context, conversationID string) ([]*entities.Message, error) {
	conv, err := s.storage.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.ordered(ctx, conv)
}

// HistoryUpTo returns messages up to and including messageID.
func (s *ConversationStore) HistoryUpTo(ctx context.Context, conversationID, messageID string) ([]*entities.Message, error) {
	history, err := s.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for i, m := range history {
		if m.ID == messageID {
			return history[:i+1], nil
		}
	}
	return nil, apperr.NotFound("message", messageID)
}

func (s *ConversationStore) ordered(ctx context.Context, conv *entities.Conversation) ([]*entities.Message, error) {
	msgs, err := s.storage.GetMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	byID := make(map[string]*entities.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	out := make([]*entities.Message, 0, len(conv.MessageIDs))
	for _, id := range conv.MessageIDs {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Append adds a message to the end of a conversation. The store assigns the
// id and timestamp, auto-titles a default-titled conversation from its first
// user message, and evicts the oldest unpinned messages beyond the cap.
func (s *ConversationStore) Append(ctx context.Context, conversationID string, msg *entities.Message) (*entities.Message, error) {
	if !msg.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidTurn, msg.Role)
	}

	unlock, err := s.lock(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	conv, err := s.storage.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	m := msg.Clone()
	m.ID = entities.NewID()
	m.ConversationID = conversationID
	m.CreatedAt = time.Now()
	if m.Status == "" {
		m.Status = entities.StatusComplete
	}

	if err := s.storage.SaveMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	conv.AddMessage(m.ID)
	if m.Role == entities.RoleUser && conv.HasDefaultTitle() {
		conv.SetTitle(entities.TitleFromMessage(m.Content))
	}

	evicted, err := s.evict(ctx, conv, m.ID)
	if err != nil {
		return nil, err
	}
	if err := s.storage.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}
	if len(evicted) > 0 {
		if err := s.storage.DeleteMessages(ctx, evicted); err != nil {
			return nil, fmt.Errorf("failed to delete evicted messages: %w", err)
		}
		s.logger.Debug("Evicted messages over cap", logutil.Fields{
			"conversation_id": conversationID,
			"evicted":         len(evicted),
		})
	}

	return m.Clone(), nil
}

// evict drops messages until the cap holds: unpinned non-pending messages
// oldest first, then the oldest overall. The message just appended (keepID)
// is never a candidate. It returns the dropped ids.
func (s *ConversationStore) evict(ctx context.Context, conv *entities.Conversation, keepID string) ([]string, error) {
	excess := len(conv.MessageIDs) - s.maxMessages
	if excess <= 0 {
		return nil, nil
	}

	msgs, err := s.ordered(ctx, conv)
	if err != nil {
		return nil, err
	}

	var evicted []string
	for _, m := range msgs {
		if len(evicted) == excess {
			break
		}
		if m.ID != keepID && !m.Pinned && !m.IsPending() {
			evicted = append(evicted, m.ID)
		}
	}
	conv.RemoveMessages(evicted...)

	for len(conv.MessageIDs) > s.maxMessages {
		oldest := conv.MessageIDs[0]
		evicted = append(evicted, oldest)
		conv.RemoveMessages(oldest)
	}
	return evicted, nil
}

// UpdateMessage applies fn to a message under the conversation lock and
// persists the result.
func (s *ConversationStore) UpdateMessage(ctx context.Context, conversationID, messageID string, fn func(*entities.Message) error) (*entities.Message, error) {
	unlock, err := s.lock(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m, err := s.storage.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.ConversationID != conversationID {
		return nil, apperr.NotFound("message", messageID)
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	if err := s.storage.SaveMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return m.Clone(), nil
}

// Edit replaces a message's text, marks it edited and keeps its position and
// original timestamp.
func (s *ConversationStore) Edit(ctx context.Context, messageID, text string) (*entities.Message, error) {
	existing, err := s.storage.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	conversationID := existing.ConversationID
	edited, err := s.UpdateMessage(ctx, conversationID, messageID, func(m *entities.Message) error {
		if m.IsPending() {
			return fmt.Errorf("%w: message %s is still generating", apperr.ErrInvalidTurn, messageID)
		}
		m.Edit(text)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.touch(ctx, conversationID); err != nil {
		return nil, err
	}
	return edited, nil
}

// SetPinned pins or unpins a message. Pinned messages survive eviction
// while unpinned ones remain.
func (s *ConversationStore) SetPinned(ctx context.Context, messageID string, pinned bool) (*entities.Message, error) {
	existing, err := s.storage.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return s.UpdateMessage(ctx, existing.ConversationID, messageID, func(m *entities.Message) error {
		m.Pinned = pinned
		return nil
	})
}

func (s *ConversationStore) touch(ctx context.Context, conversationID string) error {
	return s.mutateConversation(ctx, conversationID, func(c *entities.Conversation) error {
		c.Touch()
		return nil
	})
}

func (s *ConversationStore) mutateConversation(ctx context.Context, id string, fn func(*entities.Conversation) error) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	conv, err := s.storage.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(conv); err != nil {
		return err
	}
	if err := s.storage.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// Rename sets the conversation title. An empty title restores the default.
func (s *ConversationStore) Rename(ctx context.Context, id, title string) (*entities.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = entities.DefaultConversationTitle
	}
	if err := s.mutateConversation(ctx, id, func(c *entities.Conversation) error {
		c.SetTitle(title)
		return nil
	}); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// SetSystemPrompt switches the prompt used for future turns.
func (s *ConversationStore) SetSystemPrompt(ctx context.Context, id, promptID string) (*entities.Conversation, error) {
	if _, err := s.storage.GetSystemPrompt(ctx, promptID); err != nil {
		return nil, err
	}
	if err := s.mutateConversation(ctx, id, func(c *entities.Conversation) error {
		c.SetSystemPrompt(promptID)
		return nil
	}); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a conversation and its messages, then notifies observers.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}

	err = s.deleteLocked(ctx, id)
	unlock()
	if err != nil {
		return err
	}

	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()

	s.observersMu.RLock()
	observers := append([]ports.ConversationObserver(nil), s.observers...)
	s.observersMu.RUnlock()
	for _, o := range observers {
		o.OnConversationDeleted(id)
	}

	s.logger.Info("Conversation deleted", logutil.Fields{"conversation_id": id})
	return nil
}

// DeleteAll removes every conversation, notifying observers for each, and
// returns how many were deleted. Prompts are kept.
func (s *ConversationStore) DeleteAll(ctx context.Context) (int, error) {
	convs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, conv := range convs {
		if err := s.Delete(ctx, conv.ID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *ConversationStore) deleteLocked(ctx context.Context, id string) error {
	if _, err := s.storage.GetConversation(ctx, id); err != nil {
		return err
	}
	msgs, err := s.storage.GetMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := s.storage.DeleteMessages(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if err := s.storage.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// Search finds messages whose text contains query, ignoring case. Hits are
// ordered by conversation recency, then message recency.
func (s *ConversationStore) Search(ctx context.Context, query string) ([]SearchHit, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []SearchHit{}, nil
	}

	convs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	hits := []SearchHit{}
	for _, conv := range convs {
		msgs, err := s.ordered(ctx, conv)
		if err != nil {
			return nil, err
		}
		// Walk newest first so equal timestamps keep reverse insertion order.
		var matched []*entities.Message
		for i := len(msgs) - 1; i >= 0; i-- {
			if strings.Contains(strings.ToLower(msgs[i].Content), needle) {
				matched = append(matched, msgs[i])
			}
		}
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		})
		for _, m := range matched {
			hits = append(hits, SearchHit{Conversation: conv, Message: m})
		}
	}
	return hits, nil
}

// Snapshot returns a read-only transcript of a conversation for export.
func (s *ConversationStore) Snapshot(ctx context.Context, id string) (*entities.Transcript, error) {
	conv, err := s.storage.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.ordered(ctx, conv)
	if err != nil {
		return nil, err
	}

	transcript := &entities.Transcript{
		Conversation: conv,
		Messages:     msgs,
		ExportedAt:   time.Now(),
	}
	if prompt, err := s.storage.GetSystemPrompt(ctx, conv.SystemPromptID); err == nil {
		transcript.SystemPrompt = prompt
	}
	return transcript, nil
}

// Snapshots returns transcripts of the given conversations in the order
// asked, or of every conversation by recency when ids is empty.
func (s *ConversationStore) Snapshots(ctx context.Context, ids []string) ([]*entities.Transcript, error) {
	if len(ids) == 0 {
		convs, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, conv := range convs {
			ids = append(ids, conv.ID)
		}
	}

	transcripts := make([]*entities.Transcript, 0, len(ids))
	for _, id := range ids {
		transcript, err := s.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		transcripts = append(transcripts, transcript)
	}
	return transcripts, nil
}

// SystemPromptText returns the content of a conversation's prompt, or "" when
// the prompt no longer exists.
func (s *ConversationStore) SystemPromptText(ctx context.Context, conv *entities.Conversation) string {
	prompt, err := s.storage.GetSystemPrompt(ctx, conv.SystemPromptID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("Failed to load system prompt", logutil.Fields{
				"prompt_id": conv.SystemPromptID,
				"error":     err.Error(),
			})
		}
		return ""
	}
	return prompt.Content
}

// CreatePrompt adds a prompt to the library.
func (s *ConversationStore) CreatePrompt(ctx context.Context, name, content string) (*entities.SystemPrompt, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: prompt name is required", apperr.ErrInvalidTurn)
	}
	prompt := entities.NewSystemPrompt(name, content)
	if err := s.storage.SaveSystemPrompt(ctx, prompt); err != nil {
		return nil, fmt.Errorf("failed to save system prompt: %w", err)
	}
	return prompt, nil
}

// GetPrompt returns one prompt.
func (s *ConversationStore) GetPrompt(ctx context.Context, id string) (*entities.SystemPrompt, error) {
	return s.storage.GetSystemPrompt(ctx, id)
}

// ListPrompts returns the prompt library ordered by name.
func (s *ConversationStore) ListPrompts(ctx context.Context) ([]*entities.SystemPrompt, error) {
	return s.storage.ListSystemPrompts(ctx)
}

// UpdatePrompt changes a prompt's name and content.
func (s *ConversationStore) UpdatePrompt(ctx context.Context, id, name, content string) (*entities.SystemPrompt, error) {
	prompt, err := s.storage.GetSystemPrompt(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = prompt.Name
	}
	prompt.Update(name, content)
	if err := s.storage.SaveSystemPrompt(ctx, prompt); err != nil {
		return nil, fmt.Errorf("failed to save system prompt: %w", err)
	}
	return prompt, nil
}

// DeletePrompt removes a prompt. Conversations using it fall back to no prompt.
func (s *ConversationStore) DeletePrompt(ctx context.Context, id string) error {
	return s.storage.DeleteSystemPrompt(ctx, id)
}

// SeedPrompts stores the built-in prompt library, skipping prompts that
// already exist. It returns how many were added.
func (s *ConversationStore) SeedPrompts(ctx context.Context) (int, error) {
	added := 0
	for _, p := range entities.DefaultSystemPrompts() {
		_, err := s.storage.GetSystemPrompt(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return added, fmt.Errorf("failed to check system prompt %s: %w", p.ID, err)
		}
		if err := s.storage.SaveSystemPrompt(ctx, p); err != nil {
			return added, fmt.Errorf("failed to seed system prompt %s: %w", p.ID, err)
		}
		added++
	}
	if added > 0 {
		s.logger.Info("Seeded system prompts", logutil.Fields{"count": added})
	}
	return added, nil
}

func sortByRecency(convs []*entities.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}
