package httputil

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"ollamachat/internal/pkg/logutil"
)

// ContextKey represents a context key type to avoid collisions
type ContextKey string

// TimeoutConfigKey is the gin context key for timeout configuration
const TimeoutConfigKey ContextKey = "timeout_config"

// MiddlewareConfig holds middleware configuration
type MiddlewareConfig struct {
	Timeouts       TimeoutConfig
	EnableCORS     bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// DefaultMiddlewareConfig provides sensible defaults
var DefaultMiddlewareConfig = MiddlewareConfig{
	Timeouts:       DefaultTimeouts,
	EnableCORS:     true,
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	AllowedHeaders: []string{"Content-Type", "Authorization"},
}

// TimeoutMiddleware injects timeout configuration into the gin context
func TimeoutMiddleware(config TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(TimeoutConfigKey), config)
		c.Next()
	}
}

// CORSMiddleware creates a configurable CORS middleware
func CORSMiddleware(config MiddlewareConfig) gin.HandlerFunc {
	methods := strings.Join(config.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	headers := strings.Join(config.AllowedHeaders, ", ")
	if headers == "" {
		headers = "Content-Type, Authorization"
	}
	origins := strings.Join(config.AllowedOrigins, ", ")
	if origins == "" {
		origins = "*"
	}

	return func(c *gin.Context) {
		if config.EnableCORS {
			c.Header("Access-Control-Allow-Origin", origins)
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)

			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		}
		c.Next()
	}
}

// GetTimeoutForOperation retrieves the timeout for an operation from the gin context
func GetTimeoutForOperation(c *gin.Context, operationType string) time.Duration {
	if v, ok := c.Get(string(TimeoutConfigKey)); ok {
		if config, ok := v.(TimeoutConfig); ok {
			return config.For(operationType)
		}
	}
	return DefaultTimeouts.For(operationType)
}

// WithOperationContext derives a request-scoped context with the operation timeout
func WithOperationContext(c *gin.Context, operationType string) (context.Context, context.CancelFunc) {
	var parent context.Context = context.Background()
	if c.Request != nil {
		parent = c.Request.Context()
	}
	return WithTimeout(parent, GetTimeoutForOperation(c, operationType))
}

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	rate     rate.Limit
	burst    int
	ttl      time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ErrRateLimited is returned to clients that exceed their budget.
var ErrRateLimited = errors.New("rate limited")

// NewRateLimiter allows perMinute requests per client with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		ttl:      10 * time.Minute,
	}
}

// Allow reports whether key may make a request now.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cl, ok := r.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(r.rate, r.burst)}
		r.limiters[key] = cl
	}
	cl.lastSeen = now

	// Drop idle clients opportunistically.
	if len(r.limiters) > 1024 {
		for k, v := range r.limiters {
			if now.Sub(v.lastSeen) > r.ttl {
				delete(r.limiters, k)
			}
		}
	}
	return cl.limiter.AllowN(now, 1)
}

// RateLimitMiddleware rejects clients over budget with 429.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow(c.ClientIP()) {
			ErrorResponse(c, http.StatusTooManyRequests, ErrRateLimited)
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *logutil.Logger) gin.HandlerFunc {
	logger = logutil.OrGlobal(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logutil.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request failed", fields)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("request rejected", fields)
		default:
			logger.Debug("request served", fields)
		}
	}
}
