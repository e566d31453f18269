package entities

import (
	"time"
)

// Outcome is the terminal result of one model call.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// BenchmarkSample records latency and throughput for one model call.
// Samples are append-only and never mutated after creation.
type BenchmarkSample struct {
	Model          string        `json:"model"`
	RequestID      string        `json:"request_id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	TTFT           time.Duration `json:"ttft"`
	TotalDuration  time.Duration `json:"total_duration"`
	OutputTokens   int           `json:"output_tokens"`
	PromptTokens   int           `json:"prompt_tokens"`
	Outcome        Outcome       `json:"outcome"`
	Reason         string        `json:"reason,omitempty"`
	RecordedAt     time.Time     `json:"recorded_at"`
}

// TokensPerSecond returns output tokens over total duration. The second
// result is false when the sample must not count toward throughput.
func (s BenchmarkSample) TokensPerSecond() (float64, bool) {
	if s.Outcome != OutcomeOK || s.TotalDuration <= 0 {
		return 0, false
	}
	return float64(s.OutputTokens) / s.TotalDuration.Seconds(), true
}

// Failed reports whether the sample counts as an error.
func (s BenchmarkSample) Failed() bool {
	return s.Outcome != OutcomeOK
}

// TerminalStatus is the final state carried by the last PartialOutput.
type TerminalStatus string

const (
	TerminalOK        TerminalStatus = "ok"
	TerminalError     TerminalStatus = "error"
	TerminalCancelled TerminalStatus = "cancelled"
	TerminalTimeout   TerminalStatus = "timeout"
)

// Outcome maps a terminal status to a benchmark outcome.
func (s TerminalStatus) Outcome() Outcome {
	switch s {
	case TerminalOK:
		return OutcomeOK
	case TerminalTimeout:
		return OutcomeTimeout
	case TerminalCancelled:
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

// PartialOutput is one event of a model stream. The last event has Done set
// and carries the terminal status.
type PartialOutput struct {
	Seq       int       `json:"seq"`
	Delta     string    `json:"delta,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Done          bool           `json:"done"`
	Status        TerminalStatus `json:"status,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	OutputTokens  int            `json:"output_tokens,omitempty"`
	PromptTokens  int            `json:"prompt_tokens,omitempty"`
	TTFT          time.Duration  `json:"ttft,omitempty"`
	TotalDuration time.Duration  `json:"total_duration,omitempty"`
}

// Label renders the terminal marker as "ok", "cancelled", "timeout" or "error:<reason>".
func (p PartialOutput) Label() string {
	if p.Status == TerminalError && p.Reason != "" {
		return string(p.Status) + ":" + p.Reason
	}
	return string(p.Status)
}
