// Package apperr holds the error taxonomy shared by the domain services and adapters.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Check them with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidOptions  = errors.New("invalid generation options")
	ErrInvalidHistory  = errors.New("invalid conversation history")
	ErrInvalidTurn     = errors.New("invalid turn request")
	ErrUnreachable     = errors.New("backend unreachable")
	ErrTimeout         = errors.New("timed out")
	ErrCancelled       = errors.New("cancelled")
	ErrStoreContention = errors.New("store contention")
	ErrUnsupported     = errors.New("not supported by backend")
)

// OptionsError lists every out-of-range generation option.
type OptionsError struct {
	Problems []string
}

func (e *OptionsError) Error() string {
	return fmt.Sprintf("invalid generation options: %s", strings.Join(e.Problems, "; "))
}

func (e *OptionsError) Unwrap() error {
	return ErrInvalidOptions
}

// BackendError is returned when the inference backend answers with a non-success status.
type BackendError struct {
	Code    int
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Message)
}

// Reason renders the error in the "backend:<code>" form used on terminal markers.
func (e *BackendError) Reason() string {
	return fmt.Sprintf("backend:%d", e.Code)
}

// OrchestrationError is fatal for the caller: a store operation failed after
// its retry, or an invariant was violated.
type OrchestrationError struct {
	Op  string
	Err error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("orchestration failed during %s: %v", e.Op, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// NotFound wraps ErrNotFound with the kind and id of the missing record.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// IsRetryable reports whether err is transient store contention.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreContention)
}
