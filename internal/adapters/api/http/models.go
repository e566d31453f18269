package http

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ollamachat/internal/domain/ports"
	"ollamachat/internal/domain/services"
	"ollamachat/internal/pkg/constants"
	"ollamachat/internal/pkg/httputil"
	"ollamachat/internal/pkg/logutil"
)

// Model management handlers

func (h *APIHandlers) listModels(c *gin.Context) {
	if httputil.ParseBoolParam(c, "refresh", false) {
		h.deps.Registry.ClearCache()
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationHealth)
	defer cancel()

	models, err := h.deps.Registry.ListModels(ctx)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponseWithMeta(c, models, gin.H{"count": len(models)})
}

func (h *APIHandlers) refreshModels(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationHealth)
	defer cancel()

	if err := h.deps.Registry.Refresh(ctx); err != nil {
		httputil.DomainError(c, err)
		return
	}
	models, err := h.deps.Registry.ListModels(ctx)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponseWithMeta(c, models, gin.H{"count": len(models)})
}

// pullModel starts a download and returns at once. Progress, completion and
// failure are published as model.pull events.
func (h *APIHandlers) pullModel(c *gin.Context) {
	var req struct {
		Model string `json:"model" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}
	model := strings.TrimSpace(req.Model)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.ModelAdminTimeout)
		defer cancel()

		progressFn := func(progress ports.PullProgress) {
			h.publish(ports.EventModelPull, gin.H{
				"model":     model,
				"status":    progress.Status,
				"completed": progress.Completed,
				"total":     progress.Total,
				"percent":   progress.Percent(),
			})
		}

		if err := h.deps.Registry.PullModel(ctx, model, progressFn); err != nil {
			h.logger.Warn("Model pull failed", logutil.Fields{"model": model, "error": err.Error()})
			h.publish(ports.EventModelPull, gin.H{"model": model, "status": "error", "error": err.Error()})
			return
		}
		h.publish(ports.EventModelPull, gin.H{"model": model, "status": "complete"})
	}()

	httputil.AcceptedResponse(c, gin.H{
		"status":  "pulling",
		"model":   model,
		"message": "Model download started",
	})
}

func (h *APIHandlers) getModelInfo(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationModelAdmin)
	defer cancel()

	name := c.Param("name")
	info, err := h.deps.Registry.ShowModel(ctx, name)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{
		"name":     name,
		"info":     info,
		"endpoint": h.deps.Registry.Endpoint(name),
	})
}

func (h *APIHandlers) deleteModel(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationModelAdmin)
	defer cancel()

	name := c.Param("name")
	if err := h.deps.Registry.DeleteModel(ctx, name); err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"model": name, "message": "Model deleted"})
}

func (h *APIHandlers) unloadModel(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationModelAdmin)
	defer cancel()

	name := c.Param("name")
	if err := h.deps.Registry.UnloadModel(ctx, name); err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"model": name, "message": "Model unloaded"})
}

// keepModelLoaded keeps a model resident for duration (default one hour).
// A negative duration keeps it loaded until the server restarts.
func (h *APIHandlers) keepModelLoaded(c *gin.Context) {
	var req struct {
		Duration string `json:"duration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequestError(c, err)
		return
	}
	duration := constants.DefaultKeepAlive
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			httputil.BadRequestError(c, err)
			return
		}
		duration = d
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationModelAdmin)
	defer cancel()

	name := c.Param("name")
	if err := h.deps.Registry.KeepLoaded(ctx, name, duration); err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{"model": name, "keep_alive": duration.String()})
}

func (h *APIHandlers) runningModels(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationHealth)
	defer cancel()

	models, err := h.deps.Registry.RunningModels(ctx)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponseWithMeta(c, models, gin.H{"count": len(models)})
}

func (h *APIHandlers) serverVersion(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationHealth)
	defer cancel()

	version, err := h.deps.Registry.Version(ctx)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{
		"server":  version,
		"service": constants.ServiceVersion,
	})
}

// Benchmark handlers

func (h *APIHandlers) listBenchmarks(c *gin.Context) {
	summaries := h.deps.Collector.Summaries()
	httputil.SuccessResponseWithMeta(c, summaries, gin.H{
		"window_size":  h.deps.Collector.WindowSize(),
		"last_updated": h.deps.Collector.LastUpdateTime(),
	})
}

func (h *APIHandlers) getBenchmark(c *gin.Context) {
	model := c.Param("model")
	data := gin.H{"summary": h.deps.Collector.Summary(model)}
	if httputil.ParseBoolParam(c, "samples", false) {
		data["samples"] = h.deps.Collector.Samples(model)
	}
	httputil.SuccessResponse(c, data)
}

func (h *APIHandlers) runBenchmark(c *gin.Context) {
	var req services.BenchmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationInference)
	defer cancel()

	start := time.Now()
	reports, err := h.deps.Benchmarker.Compare(ctx, req)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponseWithMeta(c, reports, gin.H{"duration": time.Since(start).String()})
}

func (h *APIHandlers) benchmarkModel(c *gin.Context) {
	var req struct {
		Prompt     string `json:"prompt"`
		Iterations int    `json:"iterations"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequestError(c, err)
		return
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationInference)
	defer cancel()

	report, err := h.deps.Benchmarker.Benchmark(ctx, c.Param("model"), req.Prompt, req.Iterations)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}
	httputil.SuccessResponse(c, report)
}

func (h *APIHandlers) getAnalytics(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationHealth)
	defer cancel()

	// Reports are eventually consistent; ?sync=true waits for queued events.
	if httputil.ParseBoolParam(c, "sync", false) {
		if err := h.deps.Analytics.Sync(ctx); err != nil {
			httputil.DomainError(c, err)
			return
		}
	}
	httputil.SuccessResponse(c, h.deps.Analytics.Report())
}
