package entities

import (
	"time"
)

// MessageRole represents the role of a message in a conversation
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is one of the known roles.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// MessageStatus tracks the lifecycle of a message.
type MessageStatus string

const (
	StatusPending  MessageStatus = "pending"
	StatusComplete MessageStatus = "complete"
	StatusFailed   MessageStatus = "failed"
	StatusEdited   MessageStatus = "edited"
)

// Message represents a single message in a conversation
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Role           MessageRole   `json:"role"`
	Model          string        `json:"model,omitempty"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	ParentID       *string       `json:"parent_id,omitempty"` // user message a regenerated answer responds to
	Pinned         bool          `json:"pinned,omitempty"`
	TokenCount     int           `json:"token_count"`
	FailureReason  string        `json:"failure_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
}

// NewMessage creates a complete message. The store assigns ID and CreatedAt on append.
func NewMessage(conversationID string, role MessageRole, content string) *Message {
	return &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Status:         StatusComplete,
	}
}

// NewPlaceholder creates the pending assistant message for one model.
func NewPlaceholder(conversationID, model string, parentID string) *Message {
	m := &Message{
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Model:          model,
		Status:         StatusPending,
	}
	if parentID != "" {
		m.ParentID = &parentID
	}
	return m
}

// Edit replaces the content and marks the message edited. CreatedAt is kept.
func (m *Message) Edit(content string) {
	now := time.Now()
	m.Content = content
	m.Status = StatusEdited
	m.EditedAt = &now
}

// Complete finalizes a placeholder with its generated text.
func (m *Message) Complete(content string, tokens int) {
	m.Content = content
	m.TokenCount = tokens
	m.Status = StatusComplete
	m.FailureReason = ""
}

// Fail finalizes a placeholder with an error notice. Partial text is discarded.
func (m *Message) Fail(notice, reason string) {
	m.Content = notice
	m.Status = StatusFailed
	m.FailureReason = reason
	m.TokenCount = 0
}

// SetTokenCount sets the token count for the message
func (m *Message) SetTokenCount(count int) {
	m.TokenCount = count
}

// Parent returns the lineage parent id or "".
func (m *Message) Parent() string {
	if m.ParentID == nil {
		return ""
	}
	return *m.ParentID
}

// IsFromUser returns true if the message is from a user
func (m *Message) IsFromUser() bool {
	return m.Role == RoleUser
}

// IsFromAssistant returns true if the message is from an assistant
func (m *Message) IsFromAssistant() bool {
	return m.Role == RoleAssistant
}

// IsPending reports whether generation is still in flight.
func (m *Message) IsPending() bool {
	return m.Status == StatusPending
}

// IsFinal reports whether the message reached a terminal status.
func (m *Message) IsFinal() bool {
	return m.Status == StatusComplete || m.Status == StatusFailed
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	cp := *m
	if m.ParentID != nil {
		p := *m.ParentID
		cp.ParentID = &p
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	return &cp
}
