package ports

import (
	"context"

	"ollamachat/internal/domain/entities"
)

// StoragePort defines the interface for conversation persistence. Adapters
// are plain keyed stores: ordering, caps and locking are enforced above them.
// Missing records are reported with an error wrapping apperr.ErrNotFound.
type StoragePort interface {
	// Conversation operations
	SaveConversation(ctx context.Context, conversation *entities.Conversation) error
	GetConversation(ctx context.Context, id string) (*entities.Conversation, error)
	ListConversations(ctx context.Context) ([]*entities.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// Message operations
	SaveMessage(ctx context.Context, message *entities.Message) error
	GetMessage(ctx context.Context, id string) (*entities.Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]*entities.Message, error)
	DeleteMessages(ctx context.Context, ids []string) error

	// System prompt operations
	SaveSystemPrompt(ctx context.Context, prompt *entities.SystemPrompt) error
	GetSystemPrompt(ctx context.Context, id string) (*entities.SystemPrompt, error)
	ListSystemPrompts(ctx context.Context) ([]*entities.SystemPrompt, error)
	DeleteSystemPrompt(ctx context.Context, id string) error

	// Health check
	Ping(ctx context.Context) error
}
