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

// Streamer starts a streamed generation. *ModelClient implements it.
type Streamer interface {
	Stream(ctx context.Context, req StreamRequest) (<-chan entities.PartialOutput, error)
}

// Reachability reports whether a model should be dispatched to.
type Reachability interface {
	IsReachable(model string) bool
}

// OrchestratorConfig bounds turn dispatch.
type OrchestratorConfig struct {
	ModelTimeout     time.Duration
	RunTimeout       time.Duration
	MaxCompareModels int
	DefaultOptions   entities.GenerationOptions
}

// TurnRequest submits a user message to one or more models.
type TurnRequest struct {
	TurnID         string                 `json:"turn_id,omitempty"`
	ConversationID string                 `json:"conversation_id"`
	Content        string                 `json:"content"`
	Models         []string               `json:"models"`
	Options        *entities.OptionsPatch `json:"options,omitempty"`
	Selector       entities.Selector      `json:"-"`
}

// RegenerateRequest asks for new answers to an existing user message. When
// MessageID names an assistant message, the user message it answers is used.
type RegenerateRequest struct {
	TurnID    string                 `json:"turn_id,omitempty"`
	MessageID string                 `json:"message_id"`
	Models    []string               `json:"models,omitempty"`
	Options   *entities.OptionsPatch `json:"options,omitempty"`
	Selector  entities.Selector      `json:"-"`
}

// EditResendRequest edits a user message and re-runs the models on it.
type EditResendRequest struct {
	TurnID    string                 `json:"turn_id,omitempty"`
	MessageID string                 `json:"message_id"`
	Content   string                 `json:"content"`
	Models    []string               `json:"models,omitempty"`
	Options   *entities.OptionsPatch `json:"options,omitempty"`
	Selector  entities.Selector      `json:"-"`
}

// TurnResult holds the final state of a turn. Messages follow the order of
// the requested models.
type TurnResult struct {
	TurnID      string                  `json:"turn_id"`
	UserMessage *entities.Message       `json:"user_message"`
	Messages    []*entities.Message     `json:"messages"`
	Run         *entities.ComparisonRun `json:"run,omitempty"`
}

// TurnInfo describes an in-flight turn.
type TurnInfo struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Models         []string  `json:"models"`
	StartedAt      time.Time `json:"started_at"`
}

type activeTurn struct {
	info   TurnInfo
	cancel context.CancelFunc
}

type turnSpec struct {
	turnID   string
	conv     *entities.Conversation
	user     *entities.Message
	history  []*entities.Message
	models   []string
	options  entities.GenerationOptions
	selector entities.Selector
}

type modelResult struct {
	message   *entities.Message
	candidate entities.Candidate
	err       error
}

// SessionOrchestrator runs user turns against one or more models, streaming
// each model into its own placeholder message.
type SessionOrchestrator struct {
	store     *ConversationStore
	client    Streamer
	reach     Reachability
	publisher ports.EventPublisher
	counter   ports.TokenCounter
	config    OrchestratorConfig
	logger    *logutil.Logger

	observersMu sync.RWMutex
	observers   []ports.MessageObserver

	mu     sync.Mutex
	active map[string]*activeTurn
}

// NewSessionOrchestrator wires the orchestrator. reach, publisher and
// counter may be nil.
func NewSessionOrchestrator(store *ConversationStore, client Streamer, reach Reachability, publisher ports.EventPublisher, counter ports.TokenCounter, config OrchestratorConfig, logger *logutil.Logger) *SessionOrchestrator {
	if config.ModelTimeout <= 0 {
		config.ModelTimeout = constants.DefaultModelTimeout
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = constants.DefaultRunTimeout
	}
	if config.MaxCompareModels <= 0 {
		config.MaxCompareModels = constants.DefaultMaxCompareModels
	}
	if config.DefaultOptions.MaxTokens == 0 {
		config.DefaultOptions = entities.DefaultGenerationOptions()
	}

	return &SessionOrchestrator{
		store:     store,
		client:    client,
		reach:     reach,
		publisher: publisher,
		counter:   counter,
		config:    config,
		logger:    logutil.OrGlobal(logger).Component("orchestrator"),
		active:    make(map[string]*activeTurn),
	}
}

// AddObserver registers an observer told about every finalized message.
func (o *SessionOrchestrator) AddObserver(obs ports.MessageObserver) {
	o.observersMu.Lock()
	defer o.observersMu.Unlock()
	o.observers = append(o.observers, obs)
}

// DefaultOptions returns the options applied before request overrides.
func (o *SessionOrchestrator) DefaultOptions() entities.GenerationOptions {
	return o.config.DefaultOptions
}

func (o *SessionOrchestrator) validateModels(models []string) ([]string, error) {
	out := dedupeModels(models)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one model is required", apperr.ErrInvalidTurn)
	}
	if len(out) > o.config.MaxCompareModels {
		return nil, fmt.Errorf("%w: at most %d models per turn, got %d", apperr.ErrInvalidTurn, o.config.MaxCompareModels, len(out))
	}
	return out, nil
}

func (o *SessionOrchestrator) resolveOptions(patch *entities.OptionsPatch) (entities.GenerationOptions, error) {
	opts := patch.Apply(o.config.DefaultOptions)
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func (o *SessionOrchestrator) validateTurn(req TurnRequest) (string, []string, entities.GenerationOptions, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return "", nil, entities.GenerationOptions{}, fmt.Errorf("%w: message content is required", apperr.ErrInvalidTurn)
	}
	models, err := o.validateModels(req.Models)
	if err != nil {
		return "", nil, entities.GenerationOptions{}, err
	}
	opts, err := o.resolveOptions(req.Options)
	if err != nil {
		return "", nil, entities.GenerationOptions{}, err
	}
	return content, models, opts, nil
}

// SubmitTurn appends the user message, dispatches every model concurrently
// and returns once all answers are final. Per-model failures become failed
// messages; only store failures surviving a retry are returned as
// *apperr.OrchestrationError.
func (o *SessionOrchestrator) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	content, models, opts, err := o.validateTurn(req)
	if err != nil {
		return nil, err
	}

	conv, err := o.store.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	turn, err := o.reserve(ctx, req.TurnID, conv.ID, models)
	if err != nil {
		return nil, err
	}
	defer turn.release()

	return o.submit(ctx, turn, conv, content, models, opts, req.Selector)
}

func (o *SessionOrchestrator) submit(ctx context.Context, turn *reservation, conv *entities.Conversation, content string, models []string, opts entities.GenerationOptions, selector entities.Selector) (*TurnResult, error) {
	msg := entities.NewMessage(conv.ID, entities.RoleUser, content)
	if o.counter != nil {
		msg.SetTokenCount(o.counter.CountTokens(content))
	}
	user, err := withRetry("append user message", func() (*entities.Message, error) {
		return o.store.Append(ctx, conv.ID, msg)
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, ports.EventMessageCreated, conv.ID, user)
	o.notify(user)

	history, err := withRetry("load history", func() ([]*entities.Message, error) {
		return o.store.HistoryUpTo(ctx, conv.ID, user.ID)
	})
	if err != nil {
		return nil, err
	}

	return o.dispatch(ctx, turn, turnSpec{
		conv:     conv,
		user:     user,
		history:  history,
		models:   models,
		options:  opts,
		selector: selector,
	})
}

// StartTurn validates a turn and runs it in the background, returning its
// id at once. The turn outlives ctx; use CancelRun to stop it.
func (o *SessionOrchestrator) StartTurn(ctx context.Context, req TurnRequest) (string, error) {
	content, models, opts, err := o.validateTurn(req)
	if err != nil {
		return "", err
	}
	conv, err := o.store.Get(ctx, req.ConversationID)
	if err != nil {
		return "", err
	}

	bg := context.WithoutCancel(ctx)
	turn, err := o.reserve(bg, req.TurnID, conv.ID, models)
	if err != nil {
		return "", err
	}

	go func() {
		defer turn.release()
		if _, err := o.submit(bg, turn, conv, content, models, opts, req.Selector); err != nil {
			o.logger.Error("Background turn failed", logutil.Fields{
				"turn_id":         turn.id,
				"conversation_id": conv.ID,
				"error":           err.Error(),
			})
		}
	}()
	return turn.id, nil
}

// Regenerate produces new answers to an existing user message. Earlier
// messages are left untouched and the new answers carry the user message
// as parent.
func (o *SessionOrchestrator) Regenerate(ctx context.Context, req RegenerateRequest) (*TurnResult, error) {
	target, err := o.store.Message(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	conv, err := o.store.Get(ctx, target.ConversationID)
	if err != nil {
		return nil, err
	}
	history, err := o.store.History(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	idx, err := answeredUserMessage(history, target)
	if err != nil {
		return nil, err
	}

	requested := req.Models
	if len(requested) == 0 && target.IsFromAssistant() && target.Model != "" {
		requested = []string{target.Model}
	}
	models, err := o.validateModels(requested)
	if err != nil {
		return nil, err
	}
	opts, err := o.resolveOptions(req.Options)
	if err != nil {
		return nil, err
	}

	turn, err := o.reserve(ctx, req.TurnID, conv.ID, models)
	if err != nil {
		return nil, err
	}
	defer turn.release()

	return o.dispatch(ctx, turn, turnSpec{
		conv:     conv,
		user:     history[idx],
		history:  history[:idx+1],
		models:   models,
		options:  opts,
		selector: req.Selector,
	})
}

// answeredUserMessage returns the index of the user message target answers,
// or of target itself when it is a user message.
func answeredUserMessage(history []*entities.Message, target *entities.Message) (int, error) {
	pos := -1
	for i, m := range history {
		if m.ID == target.ID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return 0, apperr.NotFound("message", target.ID)
	}
	if target.IsFromUser() {
		return pos, nil
	}

	if parent := target.Parent(); parent != "" {
		for i, m := range history[:pos] {
			if m.ID == parent {
				return i, nil
			}
		}
	}
	for i := pos - 1; i >= 0; i-- {
		if history[i].IsFromUser() {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: message %s does not answer a user message", apperr.ErrInvalidTurn, target.ID)
}

// EditAndResend rewrites a user message and re-runs the models on the
// history up to it. New answers are appended at the end of the conversation
// with the edited message as parent; no new user message is created.
func (o *SessionOrchestrator) EditAndResend(ctx context.Context, req EditResendRequest) (*TurnResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", apperr.ErrInvalidTurn)
	}

	target, err := o.store.Message(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if !target.IsFromUser() {
		return nil, fmt.Errorf("%w: only user messages can be edited and resent", apperr.ErrInvalidTurn)
	}
	conv, err := o.store.Get(ctx, target.ConversationID)
	if err != nil {
		return nil, err
	}

	requested := req.Models
	if len(requested) == 0 {
		history, err := o.store.History(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		requested = answeringModels(history, target.ID)
	}
	models, err := o.validateModels(requested)
	if err != nil {
		return nil, err
	}
	opts, err := o.resolveOptions(req.Options)
	if err != nil {
		return nil, err
	}

	turn, err := o.reserve(ctx, req.TurnID, conv.ID, models)
	if err != nil {
		return nil, err
	}
	defer turn.release()

	edited, err := withRetry("edit message", func() (*entities.Message, error) {
		return o.store.Edit(ctx, target.ID, content)
	})
	if err != nil {
		return nil, err
	}
	if o.counter != nil {
		if updated, err := o.store.UpdateMessage(ctx, conv.ID, edited.ID, func(m *entities.Message) error {
			m.SetTokenCount(o.counter.CountTokens(content))
			return nil
		}); err == nil {
			edited = updated
		}
	}
	o.publish(ctx, ports.EventMessageFinalized, conv.ID, edited)

	history, err := withRetry("load history", func() ([]*entities.Message, error) {
		return o.store.HistoryUpTo(ctx, conv.ID, edited.ID)
	})
	if err != nil {
		return nil, err
	}

	return o.dispatch(ctx, turn, turnSpec{
		conv:     conv,
		user:     edited,
		history:  history,
		models:   models,
		options:  opts,
		selector: req.Selector,
	})
}

// answeringModels lists the models that answered userID: replies naming it
// as parent, or the assistant messages directly following it.
func answeringModels(history []*entities.Message, userID string) []string {
	var models []string
	pos := -1
	for i, m := range history {
		if m.ID == userID {
			pos = i
		}
		if m.IsFromAssistant() && m.Parent() == userID && m.Model != "" {
			models = append(models, m.Model)
		}
	}
	if len(models) > 0 || pos < 0 {
		return models
	}
	for _, m := range history[pos+1:] {
		if m.IsFromUser() {
			break
		}
		if m.Model != "" {
			models = append(models, m.Model)
		}
	}
	return models
}

// CancelRun cancels an in-flight turn. Its models finish as cancelled.
func (o *SessionOrchestrator) CancelRun(turnID string) error {
	o.mu.Lock()
	turn, ok := o.active[turnID]
	o.mu.Unlock()
	if !ok {
		return apperr.NotFound("run", turnID)
	}
	turn.cancel()
	o.logger.Info("Turn cancelled", logutil.Fields{"turn_id": turnID})
	return nil
}

// ActiveRuns lists in-flight turns, oldest first.
func (o *SessionOrchestrator) ActiveRuns() []TurnInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]TurnInfo, 0, len(o.active))
	for _, t := range o.active {
		info := t.info
		info.Models = append([]string(nil), t.info.Models...)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// reservation holds a claimed turn id and the context the turn runs under.
type reservation struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	o      *SessionOrchestrator
}

// reserve claims turnID before anything is written, so a duplicate id is
// rejected without leaving a user message behind. An empty id gets a fresh
// one. The turn deadline starts here.
func (o *SessionOrchestrator) reserve(ctx context.Context, turnID, convID string, models []string) (*reservation, error) {
	if turnID == "" {
		turnID = entities.NewID()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.active[turnID]; exists {
		return nil, fmt.Errorf("%w: turn %s is already running", apperr.ErrInvalidTurn, turnID)
	}
	turnCtx, cancel := context.WithTimeout(ctx, o.config.RunTimeout)
	o.active[turnID] = &activeTurn{
		info: TurnInfo{
			ID:             turnID,
			ConversationID: convID,
			Models:         models,
			StartedAt:      time.Now(),
		},
		cancel: cancel,
	}
	return &reservation{id: turnID, ctx: turnCtx, cancel: cancel, o: o}, nil
}

// release cancels the turn context and frees the id.
func (r *reservation) release() {
	r.cancel()
	r.o.mu.Lock()
	defer r.o.mu.Unlock()
	delete(r.o.active, r.id)
}

// dispatch creates the placeholders, runs one goroutine per model and waits
// for all of them. Store writes use a context detached from cancellation so
// cancelled and timed out turns still finalize their messages.
func (o *SessionOrchestrator) dispatch(ctx context.Context, turn *reservation, spec turnSpec) (*TurnResult, error) {
	spec.turnID = turn.id
	turnCtx := turn.ctx

	storeCtx := context.WithoutCancel(ctx)
	convID := spec.conv.ID

	placeholders := make([]*entities.Message, 0, len(spec.models))
	for _, model := range spec.models {
		p, err := withRetry("append placeholder", func() (*entities.Message, error) {
			return o.store.Append(storeCtx, convID, entities.NewPlaceholder(convID, model, spec.user.ID))
		})
		if err != nil {
			o.abandon(storeCtx, placeholders)
			return nil, err
		}
		placeholders = append(placeholders, p)
		o.publish(storeCtx, ports.EventMessageCreated, convID, p)
	}

	var run *entities.ComparisonRun
	if len(placeholders) > 1 {
		ids := make(map[string]string, len(placeholders))
		for _, p := range placeholders {
			ids[p.Model] = p.ID
		}
		run = entities.NewComparisonRun(spec.turnID, convID, spec.user.ID, ids)
		o.publish(storeCtx, ports.EventRunStatus, convID, run.Clone())
	}

	o.logger.Info("Turn dispatched", logutil.Fields{
		"turn_id":         spec.turnID,
		"conversation_id": convID,
		"models":          spec.models,
	})

	systemPrompt := o.store.SystemPromptText(storeCtx, spec.conv)
	results := make(chan modelResult, len(placeholders))
	for _, p := range placeholders {
		go o.runModel(turnCtx, storeCtx, spec, systemPrompt, p, results)
	}

	final := make(map[string]*entities.Message, len(placeholders))
	var storeErr error
	done := turnCtx.Done()
	for pending := len(placeholders); pending > 0; {
		select {
		case res := <-results:
			pending--
			final[res.message.ID] = res.message
			if res.err != nil && storeErr == nil {
				storeErr = res.err
			}
			if run != nil {
				run.Finish(res.candidate)
				o.publish(storeCtx, ports.EventRunStatus, convID, run.Clone())
			}
		case <-done:
			// Models observe the same context and finalize on their own.
			o.logger.Warn("Turn context ended before all models finished", logutil.Fields{
				"turn_id": spec.turnID,
				"reason":  turnCtx.Err().Error(),
			})
			done = nil
		}
	}

	result := &TurnResult{
		TurnID:      spec.turnID,
		UserMessage: spec.user,
		Messages:    make([]*entities.Message, 0, len(placeholders)),
		Run:         run,
	}
	for _, p := range placeholders {
		result.Messages = append(result.Messages, final[p.ID])
	}
	if run != nil {
		run.SelectBest(spec.selector)
		o.publish(storeCtx, ports.EventRunStatus, convID, run.Clone())
	}

	if storeErr != nil {
		return result, storeErr
	}
	return result, nil
}

// abandon fails placeholders of a turn that could not be fully set up.
func (o *SessionOrchestrator) abandon(ctx context.Context, placeholders []*entities.Message) {
	for _, p := range placeholders {
		terminal := entities.PartialOutput{Done: true, Status: entities.TerminalCancelled}
		if _, err := o.finalize(ctx, p, "", terminal); err != nil {
			o.logger.Error("Failed to abandon placeholder", logutil.Fields{"message_id": p.ID, "error": err.Error()})
		}
	}
}

func (o *SessionOrchestrator) runModel(turnCtx, storeCtx context.Context, spec turnSpec, systemPrompt string, placeholder *entities.Message, results chan<- modelResult) {
	model := placeholder.Model
	var (
		content  strings.Builder
		terminal entities.PartialOutput
	)

	if o.reach != nil && !o.reach.IsReachable(model) {
		terminal = entities.PartialOutput{Done: true, Status: entities.TerminalError, Reason: ReasonUnreachable}
	} else {
		modelCtx, cancel := context.WithTimeout(turnCtx, o.config.ModelTimeout)
		defer cancel()

		ch, err := o.client.Stream(modelCtx, StreamRequest{
			Model:          model,
			History:        promptHistory(spec.history),
			SystemPrompt:   systemPrompt,
			Options:        spec.options,
			ConversationID: spec.conv.ID,
			RequestID:      placeholder.ID,
		})
		if err != nil {
			terminal = entities.PartialOutput{Done: true, Status: entities.TerminalError, Reason: requestFailureReason(err)}
		} else {
			for p := range ch {
				if p.Done {
					terminal = p
					continue
				}
				content.WriteString(p.Delta)
				o.persistDelta(storeCtx, placeholder, content.String(), p)
			}
		}
	}
	if !terminal.Done {
		terminal = entities.PartialOutput{Done: true, Status: entities.TerminalError, Reason: ReasonInvalidResponse}
	}

	msg, err := o.finalize(storeCtx, placeholder, content.String(), terminal)
	results <- modelResult{
		message: msg,
		candidate: entities.Candidate{
			Model:         model,
			MessageID:     placeholder.ID,
			Status:        msg.Status,
			Reason:        msg.FailureReason,
			TTFT:          terminal.TTFT,
			TotalDuration: terminal.TotalDuration,
			OutputTokens:  terminal.OutputTokens,
		},
		err: err,
	}
}

// persistDelta writes the accumulated text so far. Failures are logged only:
// the final text is written again on finalization.
func (o *SessionOrchestrator) persistDelta(ctx context.Context, placeholder *entities.Message, text string, p entities.PartialOutput) {
	_, err := o.store.UpdateMessage(ctx, placeholder.ConversationID, placeholder.ID, func(m *entities.Message) error {
		m.Content = text
		return nil
	})
	if err != nil {
		o.logger.Debug("Failed to persist delta", logutil.Fields{"message_id": placeholder.ID, "error": err.Error()})
	}
	o.publish(ctx, ports.EventMessageDelta, placeholder.ConversationID, ports.MessageDelta{
		MessageID: placeholder.ID,
		Model:     placeholder.Model,
		Seq:       p.Seq,
		Delta:     p.Delta,
	})
}

// finalize moves a placeholder to complete or failed. Failed messages carry a
// notice instead of the partial text.
func (o *SessionOrchestrator) finalize(ctx context.Context, placeholder *entities.Message, content string, terminal entities.PartialOutput) (*entities.Message, error) {
	apply := func(m *entities.Message) error {
		if terminal.Status == entities.TerminalOK {
			m.Complete(content, terminal.OutputTokens)
		} else {
			m.Fail(failureNotice(terminal), terminal.Label())
		}
		return nil
	}

	msg, err := withRetry("finalize message", func() (*entities.Message, error) {
		return o.store.UpdateMessage(ctx, placeholder.ConversationID, placeholder.ID, apply)
	})
	if err != nil {
		local := placeholder.Clone()
		_ = apply(local)
		o.logger.Error("Failed to finalize message", logutil.Fields{"message_id": placeholder.ID, "error": err.Error()})
		return local, err
	}

	o.publish(ctx, ports.EventMessageFinalized, msg.ConversationID, msg)
	o.notify(msg)
	return msg, nil
}

func (o *SessionOrchestrator) notify(msg *entities.Message) {
	o.observersMu.RLock()
	defer o.observersMu.RUnlock()
	for _, obs := range o.observers {
		obs.OnMessageFinalized(msg.Clone())
	}
}

func (o *SessionOrchestrator) publish(ctx context.Context, eventType, conversationID string, data interface{}) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishEvent(ctx, ports.NewEvent(eventType, conversationID, data)); err != nil {
		o.logger.Debug("Failed to publish event", logutil.Fields{"type": eventType, "error": err.Error()})
	}
}

// failureNotice is the text shown in place of a failed answer.
func failureNotice(p entities.PartialOutput) string {
	switch {
	case p.Status == entities.TerminalCancelled:
		return "Generation was cancelled."
	case p.Status == entities.TerminalTimeout:
		return "The model did not respond in time."
	case p.Reason == ReasonUnreachable:
		return "The model server could not be reached."
	case strings.HasPrefix(p.Reason, "backend:"):
		return fmt.Sprintf("The model server returned an error (%s).", strings.TrimPrefix(p.Reason, "backend:"))
	default:
		return "The model returned an invalid response."
	}
}

// promptHistory drops messages that carry no model-visible text: answers
// still generating and failure notices.
func promptHistory(history []*entities.Message) []*entities.Message {
	out := make([]*entities.Message, 0, len(history))
	for _, m := range history {
		if m.IsPending() || m.Status == entities.StatusFailed {
			continue
		}
		out = append(out, m)
	}
	return out
}

// requestFailureReason names a synchronous Stream rejection.
func requestFailureReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInvalidOptions):
		return "invalid_options"
	case errors.Is(err, apperr.ErrInvalidHistory):
		return "invalid_history"
	case errors.Is(err, apperr.ErrNotFound):
		return "unknown_model"
	default:
		return "invalid_request"
	}
}

// withRetry runs fn and retries once on store contention. Failures are
// returned as *apperr.OrchestrationError.
func withRetry[T any](op string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err != nil && apperr.IsRetryable(err) {
		v, err = fn()
	}
	if err != nil {
		var zero T
		return zero, &apperr.OrchestrationError{Op: op, Err: err}
	}
	return v, nil
}
