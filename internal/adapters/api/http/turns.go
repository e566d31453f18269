package http

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/services"
	"ollamachat/internal/pkg/httputil"
)

// selection names how the best answer of a comparison run is picked:
// "fastest" (default), "user" with preferred_model, or "none".
type selection struct {
	Selector       string `json:"selector,omitempty"`
	PreferredModel string `json:"preferred_model,omitempty"`
}

func (s selection) selector() entities.Selector {
	return entities.SelectorByName(s.Selector, s.PreferredModel)
}

type turnRequest struct {
	TurnID  string                 `json:"turn_id"`
	Content string                 `json:"content" binding:"required"`
	Models  []string               `json:"models" binding:"required"`
	Options *entities.OptionsPatch `json:"options"`
	Async   bool                   `json:"async"`
	selection
}

type regenerateRequest struct {
	TurnID    string                 `json:"turn_id"`
	MessageID string                 `json:"message_id" binding:"required"`
	Models    []string               `json:"models"`
	Options   *entities.OptionsPatch `json:"options"`
	selection
}

type editRequest struct {
	TurnID  string                 `json:"turn_id"`
	Content string                 `json:"content" binding:"required"`
	Models  []string               `json:"models"`
	Options *entities.OptionsPatch `json:"options"`
	selection
}

// submitTurn runs a user turn. With async set, or ?async=true, the turn runs
// in the background and its id is returned with 202; progress is delivered
// over the event stream.
func (h *APIHandlers) submitTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	turn := services.TurnRequest{
		TurnID:         req.TurnID,
		ConversationID: c.Param("id"),
		Content:        req.Content,
		Models:         req.Models,
		Options:        req.Options,
		Selector:       req.selector(),
	}

	if req.Async || httputil.ParseBoolParam(c, "async", false) {
		ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
		defer cancel()

		turnID, err := h.deps.Orchestrator.StartTurn(ctx, turn)
		if err != nil {
			httputil.DomainError(c, err)
			return
		}
		httputil.AcceptedResponse(c, gin.H{
			"turn_id":         turnID,
			"conversation_id": turn.ConversationID,
			"status":          "processing",
		})
		return
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationInference)
	defer cancel()

	result, err := h.deps.Orchestrator.SubmitTurn(ctx, turn)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, result)
}

func (h *APIHandlers) regenerate(c *gin.Context) {
	var req regenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationInference)
	defer cancel()

	target, err := h.deps.Store.Message(ctx, req.MessageID)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	if target.ConversationID != c.Param("id") {
		httputil.DomainError(c, fmt.Errorf("%w: message %s is not part of conversation %s",
			apperr.ErrNotFound, req.MessageID, c.Param("id")))
		return
	}

	result, err := h.deps.Orchestrator.Regenerate(ctx, services.RegenerateRequest{
		TurnID:    req.TurnID,
		MessageID: req.MessageID,
		Models:    req.Models,
		Options:   req.Options,
		Selector:  req.selector(),
	})
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, result)
}

func (h *APIHandlers) editAndResend(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationInference)
	defer cancel()

	result, err := h.deps.Orchestrator.EditAndResend(ctx, services.EditResendRequest{
		TurnID:    req.TurnID,
		MessageID: c.Param("id"),
		Content:   req.Content,
		Models:    req.Models,
		Options:   req.Options,
		Selector:  req.selector(),
	})
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, result)
}

func (h *APIHandlers) pinMessage(c *gin.Context) {
	var req struct {
		Pinned *bool `json:"pinned"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}
	pinned := true
	if req.Pinned != nil {
		pinned = *req.Pinned
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	message, err := h.deps.Store.SetPinned(ctx, c.Param("id"), pinned)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, message)
}

func (h *APIHandlers) listRuns(c *gin.Context) {
	runs := h.deps.Orchestrator.ActiveRuns()
	httputil.SuccessResponseWithMeta(c, runs, gin.H{"count": len(runs)})
}

func (h *APIHandlers) cancelRun(c *gin.Context) {
	id := c.Param("id")
	if err := h.deps.Orchestrator.CancelRun(id); err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"turn_id": id, "status": "cancelling"})
}
