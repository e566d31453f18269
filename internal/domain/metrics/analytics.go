package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ollamachat/internal/domain/entities"
	"ollamachat/internal/pkg/logutil"
)

// DefaultQueueSize bounds the analytics event queue.
const DefaultQueueSize = 256

// Report is a point-in-time view of the usage counters. Reads are
// eventually consistent with the event stream.
type Report struct {
	MessagesByConversation map[string]int `json:"messages_by_conversation"`
	TokensByModel          map[string]int `json:"tokens_by_model"`
	ErrorCountByModel      map[string]int `json:"error_count_by_model"`
	RequestsByModel        map[string]int `json:"requests_by_model"`
	MostActiveConversation string         `json:"most_active_conversation,omitempty"`
	Dropped                int64          `json:"dropped_events,omitempty"`
	GeneratedAt            time.Time      `json:"generated_at"`
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventSample
	eventDelete
	eventBarrier
)

type analyticsEvent struct {
	kind           eventKind
	message        *entities.Message
	sample         entities.BenchmarkSample
	conversationID string
	done           chan struct{}
}

// contribution is everything one conversation added to the totals, kept so
// that deleting the conversation can subtract it again.
type contribution struct {
	messages int
	tokens   map[string]int
	errors   map[string]int
	requests map[string]int
	seen     map[string]struct{}
}

func newContribution() *contribution {
	return &contribution{
		tokens:   make(map[string]int),
		errors:   make(map[string]int),
		requests: make(map[string]int),
		seen:     make(map[string]struct{}),
	}
}

// AnalyticsAggregator derives usage counters from finalized messages and
// benchmark samples. Observer calls never block: events go through a
// bounded queue drained by a single worker.
type AnalyticsAggregator struct {
	queue   chan analyticsEvent
	logger  *logutil.Logger
	dropped atomic.Int64
	started sync.Once

	mu            sync.RWMutex
	conversations map[string]*contribution
	tokens        map[string]int
	errors        map[string]int
	requests      map[string]int

	// Late events for deleted conversations are ignored.
	deleted map[string]struct{}
}

// NewAnalyticsAggregator creates an aggregator with the given queue size.
func NewAnalyticsAggregator(queueSize int, logger *logutil.Logger) *AnalyticsAggregator {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &AnalyticsAggregator{
		queue:         make(chan analyticsEvent, queueSize),
		logger:        logutil.OrGlobal(logger).Component("analytics"),
		conversations: make(map[string]*contribution),
		deleted:       make(map[string]struct{}),
		tokens:        make(map[string]int),
		errors:        make(map[string]int),
		requests:      make(map[string]int),
	}
}

// Start launches the worker. It stops when ctx is cancelled. Calling Start
// more than once has no effect.
func (a *AnalyticsAggregator) Start(ctx context.Context) {
	a.started.Do(func() {
		go a.run(ctx)
	})
}

func (a *AnalyticsAggregator) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.queue:
			a.apply(ev)
		}
	}
}

func (a *AnalyticsAggregator) enqueue(ev analyticsEvent) {
	select {
	case a.queue <- ev:
	default:
		n := a.dropped.Add(1)
		a.logger.Warn("analytics queue full, dropping event", logutil.Fields{"dropped_total": n})
	}
}

// OnMessageFinalized implements ports.MessageObserver.
func (a *AnalyticsAggregator) OnMessageFinalized(message *entities.Message) {
	if message == nil {
		return
	}
	a.enqueue(analyticsEvent{kind: eventMessage, message: message.Clone()})
}

// OnBenchmarkSample counts one dispatched model request.
func (a *AnalyticsAggregator) OnBenchmarkSample(sample entities.BenchmarkSample) {
	a.enqueue(analyticsEvent{kind: eventSample, sample: sample})
}

// Record implements ports.SampleRecorder.
func (a *AnalyticsAggregator) Record(sample entities.BenchmarkSample) {
	a.OnBenchmarkSample(sample)
}

// OnConversationDeleted implements ports.ConversationObserver.
func (a *AnalyticsAggregator) OnConversationDeleted(conversationID string) {
	a.enqueue(analyticsEvent{kind: eventDelete, conversationID: conversationID})
}

// Sync blocks until every event queued before the call has been applied.
// The worker must be running.
func (a *AnalyticsAggregator) Sync(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case a.queue <- analyticsEvent{kind: eventBarrier, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AnalyticsAggregator) apply(ev analyticsEvent) {
	if ev.kind == eventBarrier {
		close(ev.done)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.kind {
	case eventMessage:
		a.applyMessage(ev.message)
	case eventSample:
		a.applySample(ev.sample)
	case eventDelete:
		a.applyDelete(ev.conversationID)
	}
}

func (a *AnalyticsAggregator) contributionFor(conversationID string) *contribution {
	c, ok := a.conversations[conversationID]
	if !ok {
		c = newContribution()
		a.conversations[conversationID] = c
	}
	return c
}

func (a *AnalyticsAggregator) applyMessage(m *entities.Message) {
	if a.isDeleted(m.ConversationID) {
		return
	}
	c := a.contributionFor(m.ConversationID)
	if _, dup := c.seen[m.ID]; dup && m.ID != "" {
		return
	}
	c.seen[m.ID] = struct{}{}
	c.messages++

	if !m.IsFromAssistant() {
		return
	}
	switch m.Status {
	case entities.StatusComplete:
		c.tokens[m.Model] += m.TokenCount
		a.tokens[m.Model] += m.TokenCount
	case entities.StatusFailed:
		c.errors[m.Model]++
		a.errors[m.Model]++
	}
}

func (a *AnalyticsAggregator) applySample(s entities.BenchmarkSample) {
	if a.isDeleted(s.ConversationID) {
		return
	}
	a.requests[s.Model]++
	if s.ConversationID != "" {
		a.contributionFor(s.ConversationID).requests[s.Model]++
	}
}

func (a *AnalyticsAggregator) isDeleted(conversationID string) bool {
	if conversationID == "" {
		return false
	}
	_, gone := a.deleted[conversationID]
	return gone
}

func (a *AnalyticsAggregator) applyDelete(conversationID string) {
	a.deleted[conversationID] = struct{}{}
	c, ok := a.conversations[conversationID]
	if !ok {
		return
	}
	subtract(a.tokens, c.tokens)
	subtract(a.errors, c.errors)
	subtract(a.requests, c.requests)
	delete(a.conversations, conversationID)
}

func subtract(total, part map[string]int) {
	for k, v := range part {
		total[k] -= v
		if total[k] <= 0 {
			delete(total, k)
		}
	}
}

// Report returns a copy of the counters.
func (a *AnalyticsAggregator) Report() Report {
	a.mu.RLock()
	defer a.mu.RUnlock()

	r := Report{
		MessagesByConversation: make(map[string]int, len(a.conversations)),
		TokensByModel:          copyCounts(a.tokens),
		ErrorCountByModel:      copyCounts(a.errors),
		RequestsByModel:        copyCounts(a.requests),
		Dropped:                a.dropped.Load(),
		GeneratedAt:            time.Now(),
	}

	best := 0
	for id, c := range a.conversations {
		if c.messages == 0 {
			continue
		}
		r.MessagesByConversation[id] = c.messages
		// Ties go to the smaller id so the answer is deterministic.
		if c.messages > best || (c.messages == best && id < r.MostActiveConversation) {
			best = c.messages
			r.MostActiveConversation = id
		}
	}
	return r
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
