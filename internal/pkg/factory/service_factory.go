package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	wsbridge "ollamachat/internal/adapters/api/websocket"
	"ollamachat/internal/adapters/llm/ollama"
	"ollamachat/internal/adapters/llm/openai"
	"ollamachat/internal/adapters/messaging/nats"
	"ollamachat/internal/adapters/storage/memory"
	"ollamachat/internal/adapters/storage/sqlite"
	"ollamachat/internal/adapters/telemetry"
	"ollamachat/internal/adapters/websocket"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/metrics"
	"ollamachat/internal/domain/ports"
	"ollamachat/internal/domain/services"
	"ollamachat/internal/pkg/constants"
	"ollamachat/internal/pkg/logutil"
	"ollamachat/pkg/config"
	"ollamachat/pkg/tokenizer"
)

// ServiceContainer holds all initialized services
type ServiceContainer struct {
	Config *config.Config

	Storage   ports.StoragePort
	Messaging *nats.Adapter // nil when NATS is disabled
	Backend   ports.ChatBackend
	Lister    ports.ModelLister
	Counter   ports.TokenCounter

	Registry     *services.ModelRegistry
	Client       *services.ModelClient
	Store        *services.ConversationStore
	Orchestrator *services.SessionOrchestrator
	Benchmarker  *services.Benchmarker
	Collector    *metrics.BenchmarkCollector
	Analytics    *metrics.AnalyticsAggregator

	Exporter *telemetry.Exporter // nil when metrics are disabled
	Hub      *websocket.Hub
	Bridge   *wsbridge.Bridge // nil when NATS is disabled
	Events   ports.Publishers

	Logger *logutil.Logger
}

// InitializationOptions holds options for service initialization
type InitializationOptions struct {
	Config                *config.Config
	ValidateConfiguration bool
	EnableHealthChecks    bool
	StartServices         bool
	Logger                *logutil.Logger
}

// ServiceFactory provides methods for creating and initializing services
type ServiceFactory struct {
	logger *logutil.Logger
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(logger *logutil.Logger) *ServiceFactory {
	if logger == nil {
		logger = logutil.NewDefaultLogger()
	}

	return &ServiceFactory{
		logger: logger,
	}
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg config.LoggingConfig) *logutil.Logger {
	return logutil.NewLogger(logutil.LogConfig{
		Level:       logutil.ParseLevel(cfg.Level),
		Format:      cfg.Format,
		ServiceName: constants.ServiceName,
	})
}

// Initialize creates and initializes all services based on configuration
func (sf *ServiceFactory) Initialize(ctx context.Context, opts InitializationOptions) (*ServiceContainer, error) {
	if opts.Logger != nil {
		sf.logger = opts.Logger
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}

	sf.logger.Info("Starting service initialization", logutil.Fields{
		"validate_config":      opts.ValidateConfiguration,
		"enable_health_checks": opts.EnableHealthChecks,
		"start_services":       opts.StartServices,
	})

	if opts.ValidateConfiguration {
		if err := opts.Config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		sf.logger.Info("Configuration validation passed")
	}

	container := &ServiceContainer{
		Config: opts.Config,
		Logger: sf.logger,
	}

	if err := sf.initializeAdapters(ctx, opts.Config, container); err != nil {
		container.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize adapters: %w", err)
	}

	sf.initializeDomainServices(opts.Config, container)

	if opts.EnableHealthChecks {
		if err := sf.performHealthChecks(ctx, container); err != nil {
			container.Shutdown(ctx)
			return nil, fmt.Errorf("health checks failed: %w", err)
		}
		sf.logger.Info("All health checks passed")
	}

	if opts.StartServices {
		if err := sf.startServices(ctx, container); err != nil {
			container.Shutdown(ctx)
			return nil, fmt.Errorf("failed to start services: %w", err)
		}
		sf.logger.Info("All services started successfully")
	}

	sf.logger.Info("Service initialization completed successfully")
	return container, nil
}

// initializeAdapters creates and configures all adapter instances
func (sf *ServiceFactory) initializeAdapters(ctx context.Context, cfg *config.Config, container *ServiceContainer) error {
	if err := sf.initializeStorageAdapter(ctx, cfg, container); err != nil {
		return fmt.Errorf("failed to initialize storage adapter: %w", err)
	}

	if err := sf.initializeMessagingAdapter(cfg, container); err != nil {
		return fmt.Errorf("failed to initialize messaging adapter: %w", err)
	}

	sf.initializeLLMAdapter(cfg, container)
	sf.initializeTokenizer(cfg, container)

	container.Hub = websocket.NewHub(sf.logger)
	container.Events = ports.Publishers{container.Hub}
	if container.Messaging != nil {
		container.Events = append(container.Events, container.Messaging)
		container.Bridge = wsbridge.NewBridge(container.Messaging, container.Hub, sf.logger)
	}

	if cfg.Metrics.Enabled {
		container.Exporter = telemetry.NewExporter(cfg.Metrics.Namespace)
	}
	return nil
}

// initializeStorageAdapter initializes the storage adapter based on configuration
func (sf *ServiceFactory) initializeStorageAdapter(ctx context.Context, cfg *config.Config, container *ServiceContainer) error {
	sf.logger.Info("Initializing storage adapter", logutil.Fields{
		"driver": cfg.Storage.Driver,
		"path":   cfg.Storage.Path,
	})

	if cfg.Storage.Driver != "sqlite" {
		container.Storage = memory.NewAdapter()
		return nil
	}

	storage, err := OpenSQLite(ctx, cfg.Storage.Path, sf.logger)
	if err != nil {
		return err
	}
	container.Storage = storage
	return nil
}

// OpenSQLite opens the database at path, creating its directory, and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string, logger *logutil.Logger) (*sqlite.Adapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	storage, err := sqlite.NewAdapter(path, logger)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx); err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	return storage, nil
}

// initializeMessagingAdapter connects to NATS when enabled
func (sf *ServiceFactory) initializeMessagingAdapter(cfg *config.Config, container *ServiceContainer) error {
	if !cfg.NATS.Enabled {
		sf.logger.Info("NATS disabled, events stay local")
		return nil
	}

	sf.logger.Info("Initializing messaging adapter", logutil.Fields{
		"type":      "nats",
		"url":       cfg.NATS.URL,
		"jetstream": cfg.NATS.JetStream.Enabled,
	})

	messaging, err := nats.NewAdapter(nats.Options{
		URL:        cfg.NATS.URL,
		JetStream:  cfg.NATS.JetStream.Enabled,
		InstanceID: uuid.NewString(),
		MaxAge:     cfg.NATS.JetStream.MaxAge,
	}, sf.logger)
	if err != nil {
		return err
	}
	container.Messaging = messaging
	return nil
}

// initializeLLMAdapter creates the primary inference backend
func (sf *ServiceFactory) initializeLLMAdapter(cfg *config.Config, container *ServiceContainer) {
	sf.logger.Info("Initializing LLM adapter", logutil.Fields{
		"provider": cfg.Backend.Provider,
		"host":     cfg.Backend.Host,
		"port":     cfg.Backend.Port,
		"base_url": cfg.Backend.BaseURL,
	})

	if cfg.Backend.Provider == "openai" {
		adapter := openai.NewAdapter(cfg.Backend.BaseURL, cfg.Backend.APIKey)
		container.Backend, container.Lister = adapter, adapter
		return
	}

	client := ollama.NewClient(baseURL(cfg.Backend.Host, cfg.Backend.Port))
	container.Backend, container.Lister = client, client
}

// backendFactory builds backends for models served off the default server.
func backendFactory(cfg *config.Config) services.BackendFactory {
	return func(ep entities.ModelEndpoint) ports.ChatBackend {
		if cfg.Backend.Provider == "openai" {
			return openai.NewAdapter(ep.BaseURL()+"/v1", cfg.Backend.APIKey)
		}
		return ollama.NewClient(ep.BaseURL())
	}
}

func baseURL(host string, port int) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return fmt.Sprintf("%s:%d", strings.TrimSuffix(host, "/"), port)
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// initializeTokenizer loads tiktoken ranks, falling back to an estimate.
func (sf *ServiceFactory) initializeTokenizer(cfg *config.Config, container *ServiceContainer) {
	model := ""
	if len(cfg.Models.Default) > 0 {
		model = cfg.Models.Default[0]
	}
	counter, err := tokenizer.NewCounter(model)
	if err != nil {
		sf.logger.Warn("Tokenizer unavailable, using estimates", logutil.Fields{"error": err.Error()})
	}
	container.Counter = counter
}

// initializeDomainServices creates domain services with proper dependencies
func (sf *ServiceFactory) initializeDomainServices(cfg *config.Config, container *ServiceContainer) {
	overrides := make([]entities.ModelEndpoint, 0, len(cfg.Models.Endpoints))
	for _, ep := range cfg.Models.Endpoints {
		host, port := cfg.EndpointFor(ep.Model)
		overrides = append(overrides, entities.ModelEndpoint{Name: ep.Model, Host: host, Port: port})
	}
	container.Registry = services.NewModelRegistry(container.Backend, container.Lister, backendFactory(cfg), services.RegistryConfig{
		DefaultHost:   cfg.Backend.Host,
		DefaultPort:   cfg.Backend.Port,
		Overrides:     overrides,
		CacheTTL:      cfg.Models.CacheTTL,
		ProbeInterval: cfg.Models.ProbeInterval,
	}, sf.logger)

	container.Collector = metrics.NewBenchmarkCollector(cfg.Benchmark.WindowSize)
	container.Analytics = metrics.NewAnalyticsAggregator(cfg.Benchmark.AnalyticsQueueSize, sf.logger)
	relay := ports.EventRelay{Publisher: container.Events}

	recorders := ports.SampleRecorders{container.Collector, container.Registry, container.Analytics, relay}
	if container.Exporter != nil {
		recorders = append(recorders, container.Exporter)
	}
	container.Client = services.NewModelClient(container.Registry, container.Counter, recorders, cfg.Backend.IdleTimeout, sf.logger)

	container.Store = services.NewConversationStore(container.Storage, cfg.Conversation.MaxMessages, cfg.Conversation.LockTimeout, sf.logger)
	container.Store.AddObserver(container.Analytics)
	container.Store.AddObserver(relay)

	container.Orchestrator = services.NewSessionOrchestrator(container.Store, container.Client, container.Registry, container.Events, container.Counter, services.OrchestratorConfig{
		ModelTimeout:     cfg.Orchestrator.ModelTimeout,
		RunTimeout:       cfg.Orchestrator.RunTimeout,
		MaxCompareModels: cfg.Orchestrator.MaxCompareModels,
		DefaultOptions:   cfg.Generation.Defaults,
	}, sf.logger)
	container.Orchestrator.AddObserver(container.Analytics)
	if container.Exporter != nil {
		container.Orchestrator.AddObserver(container.Exporter)
		container.Exporter.Gauge(cfg.Metrics.Namespace+"_active_runs", "Turns currently in flight", func() float64 {
			return float64(len(container.Orchestrator.ActiveRuns()))
		})
		container.Exporter.Gauge(cfg.Metrics.Namespace+"_websocket_clients", "Connected websocket clients", func() float64 {
			return float64(container.Hub.ClientCount())
		})
	}

	container.Benchmarker = services.NewBenchmarker(container.Client, services.BenchmarkConfig{
		Prompt:     cfg.Benchmark.Prompt,
		Iterations: cfg.Benchmark.Iterations,
		MaxModels:  cfg.Orchestrator.MaxCompareModels,
	}, sf.logger)
}

// HealthChecks lists the dependency probes served by /health.
func (container *ServiceContainer) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"storage": container.Storage.Ping,
		"backend": container.Registry.Ping,
	}
	if container.Messaging != nil {
		checks["messaging"] = func(ctx context.Context) error { return container.Messaging.Ping() }
	}
	return checks
}

// performHealthChecks verifies all services are functioning correctly. An
// unreachable inference server is only logged: models may come up later.
func (sf *ServiceFactory) performHealthChecks(ctx context.Context, container *ServiceContainer) error {
	sf.logger.Info("Performing health checks")

	healthCtx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	if err := container.Storage.Ping(healthCtx); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	sf.logger.Debug("Storage health check passed")

	if container.Messaging != nil {
		if err := container.Messaging.Ping(); err != nil {
			return fmt.Errorf("messaging health check failed: %w", err)
		}
		sf.logger.Debug("Messaging health check passed")
	}

	if err := container.Registry.Ping(healthCtx); err != nil {
		sf.logger.Warn("Inference server not reachable", logutil.Fields{"error": err.Error()})
	}
	return nil
}

// startServices starts all services that require background operations
func (sf *ServiceFactory) startServices(ctx context.Context, container *ServiceContainer) error {
	sf.logger.Info("Starting services")

	if container.Config.Conversation.SeedPrompts {
		seeded, err := container.Store.SeedPrompts(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed system prompts: %w", err)
		}
		if seeded > 0 {
			sf.logger.Info("Seeded system prompts", logutil.Fields{"count": seeded})
		}
	}

	go container.Hub.Run(ctx)
	container.Analytics.Start(ctx)
	container.Registry.Start(ctx)

	if container.Bridge != nil {
		if err := container.Bridge.Start(ctx); err != nil {
			return fmt.Errorf("failed to start event bridge: %w", err)
		}
	}
	return nil
}

// Shutdown gracefully shuts down all services
func (container *ServiceContainer) Shutdown(ctx context.Context) error {
	logger := logutil.OrGlobal(container.Logger)
	logger.Info("Shutting down services")

	if container.Orchestrator != nil {
		for _, run := range container.Orchestrator.ActiveRuns() {
			container.Orchestrator.CancelRun(run.ID)
		}
	}

	if container.Messaging != nil {
		if err := container.Messaging.Close(); err != nil {
			logger.Warn("Error closing messaging", logutil.Fields{"error": err.Error()})
		}
	}

	if closer, ok := container.Storage.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Error closing storage", logutil.Fields{"error": err.Error()})
		}
	}

	logger.Info("Service shutdown completed")
	return nil
}
