package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ollamachat/internal/domain/entities"
	"ollamachat/internal/pkg/configutil"
	"ollamachat/internal/pkg/constants"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Backend      BackendConfig      `mapstructure:"backend"`
	Models       ModelsConfig       `mapstructure:"models"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Generation   GenerationConfig   `mapstructure:"generation"`
	Benchmark    BenchmarkConfig    `mapstructure:"benchmark"`
	Storage      StorageConfig      `mapstructure:"storage"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int           `mapstructure:"port"`
	Host        string        `mapstructure:"host"`
	CORSEnabled bool          `mapstructure:"cors_enabled"`
	RateLimit   int           `mapstructure:"rate_limit"` // requests per minute per client, 0 disables
	BurstLimit  int           `mapstructure:"burst_limit"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// BackendConfig describes the default inference server.
type BackendConfig struct {
	Provider       string        `mapstructure:"provider"` // ollama | openai
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	BaseURL        string        `mapstructure:"base_url"` // openai-compatible base URL
	APIKey         string        `mapstructure:"api_key"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// EndpointConfig overrides where one model is served. It is a list entry
// rather than a map key because model tags contain dots.
type EndpointConfig struct {
	Model string `mapstructure:"model"`
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
}

// ModelsConfig holds model registry configuration
type ModelsConfig struct {
	Default       []string         `mapstructure:"default"`
	Endpoints     []EndpointConfig `mapstructure:"endpoints"`
	ProbeInterval time.Duration    `mapstructure:"probe_interval"`
	CacheTTL      time.Duration    `mapstructure:"cache_ttl"`
}

// ConversationConfig holds conversation store limits
type ConversationConfig struct {
	MaxMessages int           `mapstructure:"max_messages"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	SeedPrompts bool          `mapstructure:"seed_prompts"`
}

// OrchestratorConfig holds turn dispatch limits
type OrchestratorConfig struct {
	ModelTimeout     time.Duration `mapstructure:"model_timeout"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
	MaxCompareModels int           `mapstructure:"max_compare_models"`
}

// GenerationConfig holds the default sampling options
type GenerationConfig struct {
	Defaults entities.GenerationOptions `mapstructure:"defaults"`
}

// BenchmarkConfig holds benchmark collector and runner settings
type BenchmarkConfig struct {
	WindowSize         int    `mapstructure:"window_size"`
	Iterations         int    `mapstructure:"iterations"`
	Prompt             string `mapstructure:"prompt"`
	AnalyticsQueueSize int    `mapstructure:"analytics_queue_size"`
}

// StorageConfig selects the persistence adapter
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // memory | sqlite
	Path   string `mapstructure:"path"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	URL       string          `mapstructure:"url"`
	JetStream JetStreamConfig `mapstructure:"jetstream"`
}

// JetStreamConfig holds JetStream-specific configuration
type JetStreamConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	MaxAge  time.Duration `mapstructure:"max_age"`
}

// MetricsConfig holds Prometheus exporter configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			Host:        "0.0.0.0",
			CORSEnabled: true,
			RateLimit:   constants.DefaultRateLimit,
			BurstLimit:  constants.DefaultBurstLimit,
			ReadTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			Provider:       "ollama",
			Host:           constants.DefaultOllamaHost,
			Port:           constants.DefaultOllamaPort,
			IdleTimeout:    constants.DefaultIdleTimeout,
			RequestTimeout: constants.DefaultRequestTimeout,
		},
		Models: ModelsConfig{
			ProbeInterval: constants.DefaultProbeInterval,
			CacheTTL:      constants.DefaultModelCacheTTL,
		},
		Conversation: ConversationConfig{
			MaxMessages: constants.DefaultMaxMessages,
			LockTimeout: constants.DefaultLockTimeout,
			SeedPrompts: true,
		},
		Orchestrator: OrchestratorConfig{
			ModelTimeout:     constants.DefaultModelTimeout,
			RunTimeout:       constants.DefaultRunTimeout,
			MaxCompareModels: constants.DefaultMaxCompareModels,
		},
		Generation: GenerationConfig{
			Defaults: entities.DefaultGenerationOptions(),
		},
		Benchmark: BenchmarkConfig{
			WindowSize:         constants.DefaultBenchmarkWindow,
			Iterations:         constants.DefaultBenchmarkIterations,
			Prompt:             constants.DefaultBenchmarkPrompt,
			AnalyticsQueueSize: constants.DefaultAnalyticsQueueSize,
		},
		Storage: StorageConfig{
			Driver: "memory",
			Path:   constants.DefaultDBPath,
		},
		NATS: NATSConfig{
			URL: constants.DefaultNATSURL,
			JetStream: JetStreamConfig{
				Enabled: true,
				MaxAge:  constants.DefaultStreamMaxAge,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: constants.DefaultMetricsNamespace,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// setDefaults registers every key so environment variables can override
// values that appear in no config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.cors_enabled", cfg.Server.CORSEnabled)
	v.SetDefault("server.rate_limit", cfg.Server.RateLimit)
	v.SetDefault("server.burst_limit", cfg.Server.BurstLimit)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)

	v.SetDefault("backend.provider", cfg.Backend.Provider)
	v.SetDefault("backend.host", cfg.Backend.Host)
	v.SetDefault("backend.port", cfg.Backend.Port)
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.api_key", cfg.Backend.APIKey)
	v.SetDefault("backend.idle_timeout", cfg.Backend.IdleTimeout)
	v.SetDefault("backend.request_timeout", cfg.Backend.RequestTimeout)

	v.SetDefault("models.default", cfg.Models.Default)
	v.SetDefault("models.probe_interval", cfg.Models.ProbeInterval)
	v.SetDefault("models.cache_ttl", cfg.Models.CacheTTL)

	v.SetDefault("conversation.max_messages", cfg.Conversation.MaxMessages)
	v.SetDefault("conversation.lock_timeout", cfg.Conversation.LockTimeout)
	v.SetDefault("conversation.seed_prompts", cfg.Conversation.SeedPrompts)

	v.SetDefault("orchestrator.model_timeout", cfg.Orchestrator.ModelTimeout)
	v.SetDefault("orchestrator.run_timeout", cfg.Orchestrator.RunTimeout)
	v.SetDefault("orchestrator.max_compare_models", cfg.Orchestrator.MaxCompareModels)

	g := cfg.Generation.Defaults
	v.SetDefault("generation.defaults.temperature", g.Temperature)
	v.SetDefault("generation.defaults.max_tokens", g.MaxTokens)
	v.SetDefault("generation.defaults.top_p", g.TopP)
	v.SetDefault("generation.defaults.top_k", g.TopK)
	v.SetDefault("generation.defaults.repeat_penalty", g.RepeatPenalty)

	v.SetDefault("benchmark.window_size", cfg.Benchmark.WindowSize)
	v.SetDefault("benchmark.iterations", cfg.Benchmark.Iterations)
	v.SetDefault("benchmark.prompt", cfg.Benchmark.Prompt)
	v.SetDefault("benchmark.analytics_queue_size", cfg.Benchmark.AnalyticsQueueSize)

	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("storage.path", cfg.Storage.Path)

	v.SetDefault("nats.enabled", cfg.NATS.Enabled)
	v.SetDefault("nats.url", cfg.NATS.URL)
	v.SetDefault("nats.jetstream.enabled", cfg.NATS.JetStream.Enabled)
	v.SetDefault("nats.jetstream.max_age", cfg.NATS.JetStream.MaxAge)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

// Load loads configuration from files and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./deployments/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// OLLAMACHAT_BACKEND_HOST overrides backend.host, and so on.
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	v := configutil.NewValidator().
		IntRange("server.port", c.Server.Port, 1, 65535).
		OneOf("backend.provider", c.Backend.Provider, []string{"ollama", "openai"}).
		RequiredDuration("backend.idle_timeout", c.Backend.IdleTimeout).
		RequiredDuration("backend.request_timeout", c.Backend.RequestTimeout).
		RequiredDuration("models.probe_interval", c.Models.ProbeInterval).
		RequiredInt("conversation.max_messages", c.Conversation.MaxMessages).
		DurationRange("conversation.lock_timeout", c.Conversation.LockTimeout, time.Millisecond, time.Minute).
		RequiredDuration("orchestrator.model_timeout", c.Orchestrator.ModelTimeout).
		RequiredDuration("orchestrator.run_timeout", c.Orchestrator.RunTimeout).
		IntRange("orchestrator.max_compare_models", c.Orchestrator.MaxCompareModels, 1, 16).
		RequiredInt("benchmark.window_size", c.Benchmark.WindowSize).
		RequiredInt("benchmark.iterations", c.Benchmark.Iterations).
		OneOf("storage.driver", c.Storage.Driver, []string{"memory", "sqlite"}).
		OneOf("logging.level", strings.ToLower(c.Logging.Level), []string{"debug", "info", "warn", "error"}).
		OneOf("logging.format", c.Logging.Format, []string{"text", "json"})

	if c.Backend.Provider == "ollama" {
		v.RequiredString("backend.host", c.Backend.Host).
			IntRange("backend.port", c.Backend.Port, 1, 65535)
	} else {
		v.RequiredString("backend.base_url", c.Backend.BaseURL).
			ValidateURL("backend.base_url", c.Backend.BaseURL)
	}
	if c.Storage.Driver == "sqlite" {
		v.RequiredString("storage.path", c.Storage.Path)
	}
	if c.NATS.Enabled {
		v.RequiredString("nats.url", c.NATS.URL).
			ValidateURL("nats.url", c.NATS.URL, "nats", "tls")
	}
	if c.Metrics.Enabled {
		v.RequiredString("metrics.namespace", c.Metrics.Namespace)
	}
	for i, ep := range c.Models.Endpoints {
		field := fmt.Sprintf("models.endpoints[%d]", i)
		v.RequiredString(field+".model", ep.Model).
			IntRange(field+".port", ep.Port, 0, 65535)
	}
	v.Check("orchestrator.run_timeout", c.Orchestrator.RunTimeout >= c.Orchestrator.ModelTimeout,
		"must not be shorter than orchestrator.model_timeout")

	if err := c.Generation.Defaults.Validate(); err != nil {
		v.Check("generation.defaults", false, err.Error())
	}

	return v.Result()
}

// EndpointFor returns the host and port serving model.
func (c *Config) EndpointFor(model string) (string, int) {
	for _, ep := range c.Models.Endpoints {
		if ep.Model != model {
			continue
		}
		host, port := ep.Host, ep.Port
		if host == "" {
			host = c.Backend.Host
		}
		if port == 0 {
			port = c.Backend.Port
		}
		return host, port
	}
	return c.Backend.Host, c.Backend.Port
}
