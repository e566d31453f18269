package httputil

import (
	"context"
	"time"
)

// Operation types used to pick a request timeout.
const (
	OperationStorage    = "storage"
	OperationModelAdmin = "model_admin"
	OperationInference  = "inference"
	OperationHealth     = "health"
)

// TimeoutConfig holds timeout configurations for different operations
type TimeoutConfig struct {
	Default time.Duration // store reads and writes
	Short   time.Duration // health probes
	Long    time.Duration // model administration and synchronous turns
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	Default: 10 * time.Second,
	Short:   5 * time.Second,
	Long:    5 * time.Minute,
}

// For returns the timeout configured for operationType.
func (t TimeoutConfig) For(operationType string) time.Duration {
	switch operationType {
	case OperationModelAdmin, OperationInference:
		return t.Long
	case OperationHealth:
		return t.Short
	default:
		return t.Default
	}
}

// WithTimeout derives a context from parent that expires after duration.
func WithTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, duration)
}
