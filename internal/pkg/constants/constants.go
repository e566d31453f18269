package constants

import "time"

// Application constants
const (
	ServiceName    = "ollamachat"
	ServiceVersion = "v0.3.0"
	APIVersion     = "v1"
	EnvPrefix      = "OLLAMACHAT"
)

// Default timeouts
const (
	DatabaseTimeout         = 10 * time.Second
	HealthCheckTimeout      = 5 * time.Second
	ModelAdminTimeout       = 10 * time.Minute
	GracefulShutdownTimeout = 30 * time.Second
)

// Inference defaults
const (
	DefaultOllamaHost     = "localhost"
	DefaultOllamaPort     = 11434
	DefaultIdleTimeout    = 60 * time.Second
	DefaultRequestTimeout = 5 * time.Minute
	DefaultModelTimeout   = 3 * time.Minute
	DefaultRunTimeout     = 5 * time.Minute
	DefaultProbeInterval  = 30 * time.Second
	DefaultModelCacheTTL  = 5 * time.Minute
	DefaultKeepAlive      = time.Hour

	// Compare mode accepts at most this many models per turn.
	DefaultMaxCompareModels = 4
)

// Conversation defaults
const (
	DefaultMaxMessages = 100
	DefaultLockTimeout = 2 * time.Second
)

// Benchmark defaults
const (
	DefaultBenchmarkWindow     = 20
	DefaultBenchmarkIterations = 3
	DefaultBenchmarkPrompt     = "Hello, how are you?"
	DefaultBenchmarkMaxTokens  = 100
	DefaultAnalyticsQueueSize  = 256
)

// Database configuration
const (
	DatabaseMaxOpenConns    = 1
	DatabaseConnMaxLifetime = 5 * time.Minute
	DefaultDBPath           = "./data/ollamachat.db"
	MigrationsTableName     = "schema_migrations"
)

// WebSocket configuration
const (
	WebSocketWriteWait      = 10 * time.Second
	WebSocketPongWait       = 60 * time.Second
	WebSocketPingPeriod     = (WebSocketPongWait * 9) / 10
	WebSocketMaxMessageSize = 4096
	WebSocketSendBuffer     = 256
)

// Rate limiting
const (
	DefaultRateLimit  = 100 // requests per minute
	DefaultBurstLimit = 10
)

// NATS defaults
const (
	DefaultNATSURL       = "nats://localhost:4222"
	ConversationStream   = "CONVERSATIONS"
	BenchmarkStream      = "BENCHMARKS"
	ModelStream          = "MODELS"
	DefaultStreamMaxAge  = 24 * time.Hour
	NATSReconnectWait    = 2 * time.Second
	NATSMaxReconnects    = 10
	NATSConnectTimeout   = 5 * time.Second
	NATSPublishQueueSize = 1024
)

// Metrics
const (
	DefaultMetricsNamespace = "ollamachat"
)

// HTTP headers
const (
	HeaderRequestID = "X-Request-ID"
)
