package entities

import (
	"sort"
	"time"
)

// RunStatus is the overall state of a comparison run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunPartial  RunStatus = "partial"
	RunComplete RunStatus = "complete"
)

// Candidate is one model's answer within a comparison run.
type Candidate struct {
	Model         string        `json:"model"`
	MessageID     string        `json:"message_id"`
	Status        MessageStatus `json:"status"`
	Reason        string        `json:"reason,omitempty"`
	TTFT          time.Duration `json:"ttft"`
	TotalDuration time.Duration `json:"total_duration"`
	OutputTokens  int           `json:"output_tokens"`
	FinishedAt    time.Time     `json:"finished_at,omitempty"`
}

// Done reports whether the candidate reached a terminal state.
func (c Candidate) Done() bool {
	return c.Status == StatusComplete || c.Status == StatusFailed
}

// ComparisonRun ties together the answers of several models to one user turn.
type ComparisonRun struct {
	ID             string                `json:"id"`
	ConversationID string                `json:"conversation_id"`
	UserMessageID  string                `json:"user_message_id"`
	Candidates     map[string]*Candidate `json:"candidates"`
	Status         RunStatus             `json:"status"`
	Best           string                `json:"best,omitempty"`
	StartedAt      time.Time             `json:"started_at"`
	FinishedAt     time.Time             `json:"finished_at,omitempty"`
}

// NewComparisonRun creates a running comparison with one pending candidate per placeholder.
func NewComparisonRun(id, conversationID, userMessageID string, placeholders map[string]string) *ComparisonRun {
	run := &ComparisonRun{
		ID:             id,
		ConversationID: conversationID,
		UserMessageID:  userMessageID,
		Candidates:     make(map[string]*Candidate, len(placeholders)),
		Status:         RunRunning,
		StartedAt:      time.Now(),
	}
	for model, messageID := range placeholders {
		run.Candidates[model] = &Candidate{Model: model, MessageID: messageID, Status: StatusPending}
	}
	return run
}

// Finish records a candidate's terminal state and advances the run status.
func (r *ComparisonRun) Finish(c Candidate) {
	if c.FinishedAt.IsZero() {
		c.FinishedAt = time.Now()
	}
	r.Candidates[c.Model] = &c

	done := 0
	for _, cand := range r.Candidates {
		if cand.Done() {
			done++
		}
	}
	switch {
	case done == len(r.Candidates):
		r.Status = RunComplete
		r.FinishedAt = c.FinishedAt
	case done > 0:
		r.Status = RunPartial
	}
}

// Completed returns candidates that finished successfully, ordered by model name.
func (r *ComparisonRun) Completed() []Candidate {
	out := make([]Candidate, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		if c.Status == StatusComplete {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// SelectBest applies sel to the completed candidates and records the choice.
func (r *ComparisonRun) SelectBest(sel Selector) string {
	if sel == nil {
		sel = FastestOK
	}
	r.Best = sel(r.Completed())
	return r.Best
}

// Selector picks the best model among completed candidates. It must be a
// pure function; "" means no selection.
type Selector func(completed []Candidate) string

// FastestOK picks the candidate with the shortest total duration.
func FastestOK(completed []Candidate) string {
	best := ""
	var bestDur time.Duration
	for _, c := range completed {
		if best == "" || c.TotalDuration < bestDur {
			best, bestDur = c.Model, c.TotalDuration
		}
	}
	return best
}

// UserChoice selects model when it completed successfully.
func UserChoice(model string) Selector {
	return func(completed []Candidate) string {
		for _, c := range completed {
			if c.Model == model {
				return model
			}
		}
		return ""
	}
}

// SelectorByName resolves a selector from its API name.
func SelectorByName(name, model string) Selector {
	switch name {
	case "user":
		return UserChoice(model)
	case "none":
		return func([]Candidate) string { return "" }
	default:
		return FastestOK
	}
}

// Clone returns a copy that shares no candidates with r.
func (r *ComparisonRun) Clone() *ComparisonRun {
	cp := *r
	cp.Candidates = make(map[string]*Candidate, len(r.Candidates))
	for model, c := range r.Candidates {
		cand := *c
		cp.Candidates[model] = &cand
	}
	return &cp
}
