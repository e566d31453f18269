package ports

import (
	"context"
	"fmt"
	"time"

	"ollamachat/internal/domain/entities"
)

// MessageHandler defines a function type for handling incoming messages
type MessageHandler func(ctx context.Context, subject string, data []byte) error

// MessagingPort defines the interface for event bus operations
type MessagingPort interface {
	// Publish sends a message to the specified subject
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishJSON publishes a JSON-serializable object to the subject
	PublishJSON(ctx context.Context, subject string, obj interface{}) error

	// Subscribe listens for messages on the specified subject
	Subscribe(ctx context.Context, subject string, handler MessageHandler) error

	// Unsubscribe stops listening to a subject
	Unsubscribe(ctx context.Context, subject string) error

	// Close closes the messaging connection
	Close() error

	// Health check
	Ping() error
}

// Event types emitted while turns are processed.
const (
	EventMessageCreated      = "message.created"
	EventMessageDelta        = "message.delta"
	EventMessageFinalized    = "message.finalized"
	EventRunStatus           = "run.status"
	EventBenchmarkSample     = "benchmark.sample"
	EventConversationDeleted = "conversation.deleted"
	EventModelPull           = "model.pull"
)

// Subjects used on the event bus
const (
	SubjectConversationEvent = "conversation.%s.%s" // conversation_id, event type
	SubjectConversationAll   = "conversation.>"
	SubjectBenchmarkSample   = "benchmark.sample"
	SubjectModelPull         = "model.pull"
)

// ConversationSubject returns the bus subject for an event.
func ConversationSubject(conversationID, eventType string) string {
	return fmt.Sprintf(SubjectConversationEvent, conversationID, eventType)
}

// Event is a realtime notification about conversation state.
type Event struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Origin         string      `json:"origin,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType, conversationID string, data interface{}) Event {
	return Event{Type: eventType, ConversationID: conversationID, Data: data, Timestamp: time.Now()}
}

// MessageDelta is the payload of a message.delta event.
type MessageDelta struct {
	MessageID string `json:"message_id"`
	Model     string `json:"model"`
	Seq       int    `json:"seq"`
	Delta     string `json:"delta"`
}

// EventPublisher delivers events to realtime subscribers. Implementations
// must not block the caller for longer than a bounded send.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event Event) error
}

// Publishers fans an event out to several publishers and returns the first error.
type Publishers []EventPublisher

// PublishEvent implements EventPublisher.
func (p Publishers) PublishEvent(ctx context.Context, event Event) error {
	var firstErr error
	for _, pub := range p {
		if pub == nil {
			continue
		}
		if err := pub.PublishEvent(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EventRelay publishes benchmark samples and conversation deletions as
// realtime events. Publish errors are dropped.
type EventRelay struct {
	Publisher EventPublisher
}

var (
	_ SampleRecorder       = EventRelay{}
	_ ConversationObserver = EventRelay{}
)

// Record implements SampleRecorder.
func (r EventRelay) Record(sample entities.BenchmarkSample) {
	r.emit(NewEvent(EventBenchmarkSample, "", sample))
}

// OnConversationDeleted implements ConversationObserver.
func (r EventRelay) OnConversationDeleted(conversationID string) {
	r.emit(NewEvent(EventConversationDeleted, conversationID, map[string]string{"conversation_id": conversationID}))
}

func (r EventRelay) emit(event Event) {
	if r.Publisher == nil {
		return
	}
	_ = r.Publisher.PublishEvent(context.Background(), event)
}
