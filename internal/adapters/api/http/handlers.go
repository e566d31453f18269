package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ollamachat/internal/adapters/websocket"
	"ollamachat/internal/domain/metrics"
	"ollamachat/internal/domain/ports"
	"ollamachat/internal/domain/services"
	"ollamachat/internal/pkg/constants"
	"ollamachat/internal/pkg/httputil"
	"ollamachat/internal/pkg/logutil"
)

// HealthCheck probes one dependency.
type HealthCheck = func(ctx context.Context) error

// Dependencies are the services behind the API. Hub, Metrics, Events and
// Checks are optional.
type Dependencies struct {
	Store        *services.ConversationStore
	Orchestrator *services.SessionOrchestrator
	Registry     *services.ModelRegistry
	Benchmarker  *services.Benchmarker
	Collector    *metrics.BenchmarkCollector
	Analytics    *metrics.AnalyticsAggregator
	Hub          *websocket.Hub
	Events       ports.EventPublisher
	Metrics      http.Handler
	Checks       map[string]HealthCheck
}

// APIHandlers contains all HTTP API handlers
type APIHandlers struct {
	deps   Dependencies
	logger *logutil.Logger
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(deps Dependencies, logger *logutil.Logger) *APIHandlers {
	return &APIHandlers{
		deps:   deps,
		logger: logutil.OrGlobal(logger).Component("http"),
	}
}

// SetupRoutes configures all API routes
func (h *APIHandlers) SetupRoutes(r *gin.Engine) {
	r.GET("/health", h.handleHealth)
	if h.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.deps.Metrics))
	}
	if h.deps.Hub != nil {
		r.GET("/ws", h.deps.Hub.HandleWebSocket)
	}

	api := r.Group("/api/v1")
	{
		// Conversations
		api.GET("/conversations", h.listConversations)
		api.POST("/conversations", h.createConversation)
		api.DELETE("/conversations", h.deleteAllConversations)
		api.GET("/conversations/:id", h.getConversation)
		api.PUT("/conversations/:id", h.updateConversation)
		api.DELETE("/conversations/:id", h.deleteConversation)
		api.GET("/conversations/:id/messages", h.getMessages)
		api.GET("/conversations/:id/export", h.exportConversation)

		// Turns
		api.POST("/conversations/:id/turns", h.submitTurn)
		api.POST("/conversations/:id/regenerate", h.regenerate)
		api.PUT("/messages/:id", h.editAndResend)
		api.PUT("/messages/:id/pin", h.pinMessage)
		api.GET("/runs", h.listRuns)
		api.DELETE("/runs/:id", h.cancelRun)
		api.GET("/search", h.search)
		api.GET("/export", h.exportConversations)

		// System prompts
		api.GET("/system-prompts", h.listSystemPrompts)
		api.POST("/system-prompts", h.createSystemPrompt)
		api.GET("/system-prompts/:id", h.getSystemPrompt)
		api.PUT("/system-prompts/:id", h.updateSystemPrompt)
		api.DELETE("/system-prompts/:id", h.deleteSystemPrompt)

		// Models
		api.GET("/models", h.listModels)
		api.POST("/models/refresh", h.refreshModels)
		api.POST("/models/pull", h.pullModel)
		api.GET("/models/running", h.runningModels)
		api.GET("/models/version", h.serverVersion)
		api.GET("/models/:name", h.getModelInfo)
		api.DELETE("/models/:name", h.deleteModel)
		api.POST("/models/:name/unload", h.unloadModel)
		api.POST("/models/:name/keep-alive", h.keepModelLoaded)

		// Benchmarks and usage
		api.GET("/benchmarks", h.listBenchmarks)
		api.GET("/benchmarks/:model", h.getBenchmark)
		api.POST("/benchmarks", h.runBenchmark)
		api.POST("/benchmarks/:model", h.benchmarkModel)
		api.GET("/analytics", h.getAnalytics)

		api.GET("/system/connections", h.getSystemConnections)
	}
}

// Health check endpoint
func (h *APIHandlers) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), constants.HealthCheckTimeout)
	defer cancel()

	status := gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   constants.ServiceName,
	}
	healthy := true
	for name, check := range h.deps.Checks {
		if err := check(ctx); err != nil {
			status[name] = "error"
			status[name+"_error"] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		status["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Conversation handlers

func (h *APIHandlers) listConversations(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	conversations, err := h.deps.Store.List(ctx)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	page := httputil.ParsePaginationParams(c)
	start, end := page.Window(len(conversations))
	httputil.SuccessResponseWithMeta(c, conversations[start:end], gin.H{
		"limit":  page.Limit,
		"offset": page.Offset,
		"total":  len(conversations),
	})
}

type conversationRequest struct {
	Title          string `json:"title"`
	SystemPromptID string `json:"system_prompt_id"`
}

func (h *APIHandlers) createConversation(c *gin.Context) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	conversation, err := h.deps.Store.Create(ctx, req.Title, req.SystemPromptID)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.CreatedResponse(c, conversation)
}

func (h *APIHandlers) getConversation(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	conversation, err := h.deps.Store.Get(ctx, c.Param("id"))
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, conversation)
}

func (h *APIHandlers) updateConversation(c *gin.Context) {
	id := c.Param("id")

	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	conversation, err := h.deps.Store.Get(ctx, id)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	if req.Title != "" {
		if conversation, err = h.deps.Store.Rename(ctx, id, req.Title); err != nil {
			httputil.DomainError(c, err)
			return
		}
	}
	if req.SystemPromptID != "" {
		if conversation, err = h.deps.Store.SetSystemPrompt(ctx, id, req.SystemPromptID); err != nil {
			httputil.DomainError(c, err)
			return
		}
	}
	httputil.SuccessResponse(c, conversation)
}

func (h *APIHandlers) deleteConversation(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	if err := h.deps.Store.Delete(ctx, c.Param("id")); err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"message": "Conversation deleted"})
}

// deleteAllConversations clears every conversation. It requires
// ?confirm=true.
func (h *APIHandlers) deleteAllConversations(c *gin.Context) {
	if !httputil.ParseBoolParam(c, "confirm", false) {
		httputil.BadRequestError(c, errors.New("deleting all conversations requires confirm=true"))
		return
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	deleted, err := h.deps.Store.DeleteAll(ctx)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"deleted": deleted, "message": "All conversations deleted"})
}

func (h *APIHandlers) getMessages(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	messages, err := h.deps.Store.History(ctx, c.Param("id"))
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponseWithMeta(c, messages, gin.H{"count": len(messages)})
}

func (h *APIHandlers) exportConversation(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	transcript, err := h.deps.Store.Snapshot(ctx, c.Param("id"))
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\"conversation-"+transcript.Conversation.ID+".json\"")
	httputil.SuccessResponse(c, transcript)
}

// exportConversations returns transcripts of the conversations named by
// ?ids=a,b, or of every conversation when ids is absent.
func (h *APIHandlers) exportConversations(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	transcripts, err := h.deps.Store.Snapshots(ctx, ids)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\"conversations.json\"")
	httputil.SuccessResponseWithMeta(c, transcripts, gin.H{"count": len(transcripts)})
}

func (h *APIHandlers) search(c *gin.Context) {
	query, err := httputil.RequiredQueryParam(c, "q")
	if err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	hits, err := h.deps.Store.Search(ctx, query)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	page := httputil.ParsePaginationParams(c)
	start, end := page.Window(len(hits))
	httputil.SuccessResponseWithMeta(c, hits[start:end], gin.H{
		"query": query,
		"total": len(hits),
	})
}

// System prompt handlers

type promptRequest struct {
	Name    string `json:"name" binding:"required"`
	Content string `json:"content"`
}

func (h *APIHandlers) listSystemPrompts(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	prompts, err := h.deps.Store.ListPrompts(ctx)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, prompts)
}

func (h *APIHandlers) createSystemPrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	prompt, err := h.deps.Store.CreatePrompt(ctx, req.Name, req.Content)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.CreatedResponse(c, prompt)
}

func (h *APIHandlers) getSystemPrompt(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	prompt, err := h.deps.Store.GetPrompt(ctx, c.Param("id"))
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, prompt)
}

func (h *APIHandlers) updateSystemPrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	prompt, err := h.deps.Store.UpdatePrompt(ctx, c.Param("id"), req.Name, req.Content)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, prompt)
}

func (h *APIHandlers) deleteSystemPrompt(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationStorage)
	defer cancel()

	if err := h.deps.Store.DeletePrompt(ctx, c.Param("id")); err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"message": "System prompt deleted"})
}

func (h *APIHandlers) getSystemConnections(c *gin.Context) {
	stats := gin.H{"active_runs": len(h.deps.Orchestrator.ActiveRuns())}
	if h.deps.Hub != nil {
		stats["websocket"] = h.deps.Hub.Stats()
	}
	httputil.SuccessResponse(c, stats)
}

// publish sends a global event when an event sink is configured.
func (h *APIHandlers) publish(eventType string, data interface{}) {
	if h.deps.Events == nil {
		return
	}
	if err := h.deps.Events.PublishEvent(context.Background(), ports.NewEvent(eventType, "", data)); err != nil {
		h.logger.Debug("Failed to publish event", logutil.Fields{"type": eventType, "error": err.Error()})
	}
}
