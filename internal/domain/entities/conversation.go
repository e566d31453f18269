package entities

import (
	"time"
)

// DefaultConversationTitle is given to conversations created without a title.
const DefaultConversationTitle = "New Conversation"

// titleLength is how much of the first user message becomes the title.
const titleLength = 50

// Conversation represents a chat conversation
type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	SystemPromptID string    `json:"system_prompt_id"`
	MessageIDs     []string  `json:"message_ids"` // Ordered list of message IDs
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewConversation creates a new conversation with the given system prompt
func NewConversation(title, systemPromptID string) *Conversation {
	if title == "" {
		title = DefaultConversationTitle
	}
	now := time.Now()
	return &Conversation{
		ID:             NewID(),
		Title:          title,
		SystemPromptID: systemPromptID,
		MessageIDs:     make([]string, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AddMessage adds a message ID to the conversation
func (c *Conversation) AddMessage(messageID string) {
	c.MessageIDs = append(c.MessageIDs, messageID)
	c.Touch()
}

// RemoveMessages drops the given ids, keeping the order of the rest.
func (c *Conversation) RemoveMessages(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := c.MessageIDs[:0]
	for _, id := range c.MessageIDs {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	c.MessageIDs = kept
}

// IndexOf returns the position of a message id, or -1.
func (c *Conversation) IndexOf(messageID string) int {
	for i, id := range c.MessageIDs {
		if id == messageID {
			return i
		}
	}
	return -1
}

// SetSystemPrompt changes the system prompt for the conversation
func (c *Conversation) SetSystemPrompt(systemPromptID string) {
	c.SystemPromptID = systemPromptID
	c.Touch()
}

// SetTitle updates the conversation title
func (c *Conversation) SetTitle(title string) {
	c.Title = title
	c.Touch()
}

// HasDefaultTitle reports whether the title was never set by a user or a first message.
func (c *Conversation) HasDefaultTitle() bool {
	return c.Title == "" || c.Title == DefaultConversationTitle
}

// TitleFromMessage derives a title from the first user message.
func TitleFromMessage(content string) string {
	return truncate(content, titleLength)
}

// Touch records activity on the conversation.
func (c *Conversation) Touch() {
	c.UpdatedAt = time.Now()
}

// MessageCount returns the number of messages in the conversation
func (c *Conversation) MessageCount() int {
	return len(c.MessageIDs)
}

// IsEmpty returns true if the conversation has no messages
func (c *Conversation) IsEmpty() bool {
	return len(c.MessageIDs) == 0
}

// Clone returns a copy that shares no slices with c.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.MessageIDs = append([]string(nil), c.MessageIDs...)
	return &cp
}

// Transcript is a read-only snapshot of a conversation and its messages,
// handed to export collaborators.
type Transcript struct {
	Conversation *Conversation `json:"conversation"`
	SystemPrompt *SystemPrompt `json:"system_prompt,omitempty"`
	Messages     []*Message    `json:"messages"`
	ExportedAt   time.Time     `json:"exported_at"`
}
