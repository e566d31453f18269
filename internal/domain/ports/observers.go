package ports

import (
	"ollamachat/internal/domain/entities"
)

// SampleRecorder receives one benchmark sample per finished model call.
type SampleRecorder interface {
	Record(sample entities.BenchmarkSample)
}

// SampleRecorders fans a sample out to several recorders.
type SampleRecorders []SampleRecorder

// Record implements SampleRecorder.
func (r SampleRecorders) Record(sample entities.BenchmarkSample) {
	for _, rec := range r {
		if rec != nil {
			rec.Record(sample)
		}
	}
}

// MessageObserver is told about messages that reached a final state.
type MessageObserver interface {
	OnMessageFinalized(message *entities.Message)
}

// ConversationObserver is told when a conversation is deleted.
type ConversationObserver interface {
	OnConversationDeleted(conversationID string)
}
