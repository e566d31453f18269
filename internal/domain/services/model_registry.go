package services

import (
	"context"
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

// BackendFactory builds the chat backend for an endpoint that is not the
// primary server.
type BackendFactory func(endpoint entities.ModelEndpoint) ports.ChatBackend

// RegistryConfig holds where models are served and how often they are checked.
type RegistryConfig struct {
	DefaultHost   string
	DefaultPort   int
	Overrides     []entities.ModelEndpoint
	CacheTTL      time.Duration
	ProbeInterval time.Duration
}

// ModelRegistry handles model discovery, availability and backend resolution.
// Models never probed are assumed reachable.
type ModelRegistry struct {
	primary ports.ChatBackend
	lister  ports.ModelLister
	admin   ports.ModelAdmin
	factory BackendFactory
	config  RegistryConfig
	logger  *logutil.Logger

	mu        sync.RWMutex
	models    map[string]*entities.ModelEndpoint
	refreshed time.Time
	backends  map[string]ports.ChatBackend

	startOnce sync.Once
}

var (
	_ ports.BackendResolver = (*ModelRegistry)(nil)
	_ ports.SampleRecorder  = (*ModelRegistry)(nil)
)

// NewModelRegistry creates a registry. lister usually is the primary
// backend; when it also implements ports.ModelAdmin, administration calls
// are passed through.
func NewModelRegistry(primary ports.ChatBackend, lister ports.ModelLister, factory BackendFactory, config RegistryConfig, logger *logutil.Logger) *ModelRegistry {
	if config.CacheTTL <= 0 {
		config.CacheTTL = constants.DefaultModelCacheTTL
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = constants.DefaultProbeInterval
	}

	r := &ModelRegistry{
		primary:  primary,
		lister:   lister,
		factory:  factory,
		config:   config,
		logger:   logutil.OrGlobal(logger).Component("model_registry"),
		models:   make(map[string]*entities.ModelEndpoint),
		backends: make(map[string]ports.ChatBackend),
	}
	if admin, ok := lister.(ports.ModelAdmin); ok {
		r.admin = admin
	}
	return r
}

// CanonicalModel returns the name a server lists a model under. An
// untagged name refers to the "latest" tag.
func CanonicalModel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}
	base := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		base = name[i+1:]
	}
	if strings.Contains(base, ":") {
		return name
	}
	return name + ":latest"
}

// Endpoint returns where a model is served.
func (r *ModelRegistry) Endpoint(model string) entities.ModelEndpoint {
	key := CanonicalModel(model)
	for _, ep := range r.config.Overrides {
		if CanonicalModel(ep.Name) != key {
			continue
		}
		if ep.Host == "" {
			ep.Host = r.config.DefaultHost
		}
		if ep.Port == 0 {
			ep.Port = r.config.DefaultPort
		}
		return ep
	}
	return entities.ModelEndpoint{Name: model, Host: r.config.DefaultHost, Port: r.config.DefaultPort}
}

func (r *ModelRegistry) isPrimary(ep entities.ModelEndpoint) bool {
	return ep.Host == r.config.DefaultHost && ep.Port == r.config.DefaultPort
}

// Resolve returns the chat backend serving model.
func (r *ModelRegistry) Resolve(model string) (ports.ChatBackend, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: model name is required", apperr.ErrInvalidTurn)
	}

	ep := r.Endpoint(model)
	if r.isPrimary(ep) || r.factory == nil {
		return r.primary, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	backend, ok := r.backends[ep.Address()]
	if !ok {
		backend = r.factory(ep)
		r.backends[ep.Address()] = backend
	}
	return backend, nil
}

// IsReachable reports the last known availability of a model.
func (r *ModelRegistry) IsReachable(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.models[CanonicalModel(model)]
	return !ok || ep.Available
}

// Record updates availability from finished model calls.
func (r *ModelRegistry) Record(sample entities.BenchmarkSample) {
	switch {
	case sample.Outcome == entities.OutcomeOK:
		r.setAvailable(sample.Model, true)
	case sample.Reason == ReasonUnreachable:
		r.setAvailable(sample.Model, false)
	}
}

func (r *ModelRegistry) setAvailable(model string, available bool) {
	key := CanonicalModel(model)
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.models[key]
	if !ok {
		e := r.Endpoint(model)
		ep = &e
		r.models[key] = ep
	}
	ep.Available = available
	ep.LastChecked = time.Now()
}

// ListModels returns cached or fresh model list
func (r *ModelRegistry) ListModels(ctx context.Context) ([]entities.ModelEndpoint, error) {
	r.mu.RLock()
	fresh := !r.refreshed.IsZero() && time.Since(r.refreshed) < r.config.CacheTTL
	r.mu.RUnlock()

	if !fresh {
		if err := r.Refresh(ctx); err != nil {
			r.logger.Warn("Model refresh failed, serving last known list", logutil.Fields{"error": err.Error()})
		}
	}
	return r.snapshot(), nil
}

func (r *ModelRegistry) snapshot() []entities.ModelEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entities.ModelEndpoint, 0, len(r.models))
	for _, ep := range r.models {
		out = append(out, *ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Refresh re-lists models on the primary server and pings override endpoints.
// When the primary server cannot be listed, its models are marked unavailable.
// Names are compared in canonical form, so "llama2" matches a listed
// "llama2:latest".
func (r *ModelRegistry) Refresh(ctx context.Context) error {
	now := time.Now()
	summaries, listErr := r.lister.ListModels(ctx)

	listed := make(map[string]ports.ModelSummary, len(summaries))
	for _, s := range summaries {
		listed[CanonicalModel(s.Name)] = s
	}

	probes := make(map[string]bool)
	for _, ep := range r.config.Overrides {
		resolved := r.Endpoint(ep.Name)
		if r.isPrimary(resolved) {
			continue
		}
		backend, err := r.Resolve(ep.Name)
		if err != nil {
			continue
		}
		probes[CanonicalModel(ep.Name)] = backend.Ping(ctx) == nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if listErr == nil {
		for key, summary := range listed {
			ep, ok := r.models[key]
			if !ok {
				e := r.Endpoint(summary.Name)
				ep = &e
				r.models[key] = ep
			}
			ep.Name = summary.Name
			describe(ep, summary)
			if r.isPrimary(*ep) {
				ep.Available = true
				ep.LastChecked = now
			}
		}
	}
	for key, ep := range r.models {
		if !r.isPrimary(*ep) {
			continue
		}
		if _, ok := listed[key]; !ok || listErr != nil {
			ep.Available = false
			ep.LastChecked = now
		}
	}
	for key, ok := range probes {
		ep, exists := r.models[key]
		if !exists {
			e := r.Endpoint(key)
			ep = &e
			describe(ep, ports.ModelSummary{Name: key})
			r.models[key] = ep
		}
		ep.Available = ok
		ep.LastChecked = now
	}
	r.refreshed = now

	if listErr != nil {
		return fmt.Errorf("failed to list models: %w", listErr)
	}
	r.logger.Debug("Refreshed model cache", logutil.Fields{"models": len(r.models)})
	return nil
}

// ClearCache forces the next ListModels call to refresh.
func (r *ModelRegistry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed = time.Time{}
}

// Start runs an initial refresh and then probes every ProbeInterval until
// ctx ends. Calling it again has no effect.
func (r *ModelRegistry) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.probeLoop(ctx)
	})
}

func (r *ModelRegistry) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.ProbeInterval)
	defer ticker.Stop()

	for {
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("Model probe failed", logutil.Fields{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Ping checks the primary server.
func (r *ModelRegistry) Ping(ctx context.Context) error {
	return r.lister.Ping(ctx)
}

func (r *ModelRegistry) requireAdmin() error {
	if r.admin == nil {
		return fmt.Errorf("%w: model administration requires the ollama provider", apperr.ErrUnsupported)
	}
	return nil
}

// ShowModel returns detailed information about a specific model
func (r *ModelRegistry) ShowModel(ctx context.Context, name string) (*ports.ModelInfo, error) {
	if err := r.requireAdmin(); err != nil {
		return nil, err
	}
	return r.admin.ShowModel(ctx, name)
}

// PullModel downloads a model with progress tracking
func (r *ModelRegistry) PullModel(ctx context.Context, name string, progressFn func(ports.PullProgress)) error {
	if err := r.requireAdmin(); err != nil {
		return err
	}
	if err := r.admin.PullModel(ctx, name, progressFn); err != nil {
		return fmt.Errorf("failed to pull model %s: %w", name, err)
	}

	// Clear cache to force refresh on next request
	r.ClearCache()
	r.logger.Info("Pulled model", logutil.Fields{"model": name})
	return nil
}

// DeleteModel removes a model from the server
func (r *ModelRegistry) DeleteModel(ctx context.Context, name string) error {
	if err := r.requireAdmin(); err != nil {
		return err
	}
	if err := r.admin.DeleteModel(ctx, name); err != nil {
		return fmt.Errorf("failed to delete model %s: %w", name, err)
	}

	r.mu.Lock()
	delete(r.models, CanonicalModel(name))
	r.refreshed = time.Time{}
	r.mu.Unlock()

	r.logger.Info("Deleted model", logutil.Fields{"model": name})
	return nil
}

// RunningModels returns models currently loaded in memory
func (r *ModelRegistry) RunningModels(ctx context.Context) ([]ports.RunningModel, error) {
	if err := r.requireAdmin(); err != nil {
		return nil, err
	}
	models, err := r.admin.RunningModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get running models: %w", err)
	}
	return models, nil
}

// UnloadModel evicts a model from server memory.
func (r *ModelRegistry) UnloadModel(ctx context.Context, name string) error {
	if err := r.requireAdmin(); err != nil {
		return err
	}
	return r.admin.UnloadModel(ctx, name)
}

// KeepLoaded asks the server to keep a model in memory for d. A negative d
// keeps it loaded until the server restarts.
func (r *ModelRegistry) KeepLoaded(ctx context.Context, name string, d time.Duration) error {
	if err := r.requireAdmin(); err != nil {
		return err
	}
	if err := r.admin.KeepLoaded(ctx, name, d); err != nil {
		return fmt.Errorf("failed to keep model %s loaded: %w", name, err)
	}
	return nil
}

// Version returns the server version.
func (r *ModelRegistry) Version(ctx context.Context) (string, error) {
	if err := r.requireAdmin(); err != nil {
		return "", err
	}
	return r.admin.Version(ctx)
}

// describe fills display fields from a list entry, guessing family and
// size from the name when the server gives no details.
func describe(ep *entities.ModelEndpoint, summary ports.ModelSummary) {
	ep.DisplayName = formatModelName(ep.Name)
	ep.Family = extractModelFamily(ep.Name)
	ep.ParameterSize = extractParameters(ep.Name)
	if summary.Size > 0 {
		ep.Size = summary.Size
	}
	if summary.Details != nil {
		if summary.Details.Family != "" {
			ep.Family = summary.Details.Family
		}
		if summary.Details.ParameterSize != "" {
			ep.ParameterSize = summary.Details.ParameterSize
		}
	}
}

var knownFamilies = []string{"llama", "mistral", "deepseek", "qwen", "phi", "gemma"}

// extractModelFamily extracts the model family from the model name
func extractModelFamily(name string) string {
	name = strings.ToLower(name)
	for _, family := range knownFamilies {
		if strings.Contains(name, family) {
			return family
		}
	}
	return "unknown"
}

// Common parameter patterns, checked in order.
var parameterPatterns = []struct{ pattern, size string }{
	{"70b", "70B"}, {"72b", "70B"}, {"34b", "34B"}, {"13b", "13B"},
	{"8b", "8B"}, {"7b", "7B"}, {"3b", "3B"}, {"1b", "1B"},
}

// extractParameters extracts parameter information from model name
func extractParameters(name string) string {
	name = strings.ToLower(name)
	for _, p := range parameterPatterns {
		if strings.Contains(name, p.pattern) {
			return p.size
		}
	}
	return "Unknown"
}

// formatModelName creates a user-friendly display name
func formatModelName(name string) string {
	// Split on colon to separate name from tag
	modelName, tag, ok := strings.Cut(name, ":")
	if !ok {
		return name
	}

	// Capitalize first letter of each word
	words := strings.Split(modelName, "-")
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ") + " (" + tag + ")"
}
