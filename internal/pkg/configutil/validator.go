// Package configutil collects configuration problems in one pass so that
// startup reports every bad setting at once.
package configutil

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError is one rejected configuration key.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds every problem found by a Validator.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return "invalid configuration: " + e[0].Error()
	}
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return fmt.Sprintf("invalid configuration (%d problems): %s", len(e), strings.Join(parts, "; "))
}

// Fields returns the offending keys in the order they were checked.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, ve := range e {
		out[i] = ve.Field
	}
	return out
}

// Validator accumulates problems through chained checks.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) add(field, format string, args ...interface{}) *Validator {
	v.errors = append(v.errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	return v
}

// RequiredString rejects an empty or blank value.
func (v *Validator) RequiredString(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.add(field, "is required")
	}
	return v
}

// RequiredInt rejects values that are not strictly positive.
func (v *Validator) RequiredInt(field string, value int) *Validator {
	if value <= 0 {
		return v.add(field, "must be greater than zero, got %d", value)
	}
	return v
}

// IntRange rejects values outside [min, max].
func (v *Validator) IntRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		return v.add(field, "must be between %d and %d, got %d", min, max, value)
	}
	return v
}

// FloatRange rejects values outside [min, max].
func (v *Validator) FloatRange(field string, value, min, max float64) *Validator {
	if value < min || value > max {
		return v.add(field, "must be between %g and %g, got %g", min, max, value)
	}
	return v
}

// RequiredDuration rejects durations that are not strictly positive.
func (v *Validator) RequiredDuration(field string, value time.Duration) *Validator {
	if value <= 0 {
		return v.add(field, "must be a positive duration, got %v", value)
	}
	return v
}

// DurationRange rejects durations outside [min, max].
func (v *Validator) DurationRange(field string, value, min, max time.Duration) *Validator {
	if value < min || value > max {
		return v.add(field, "must be between %v and %v, got %v", min, max, value)
	}
	return v
}

// OneOf rejects values not in allowed.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	return v.add(field, "must be one of [%s], got %q", strings.Join(allowed, ", "), value)
}

// ValidateURL accepts an empty value or an absolute URL with one of schemes
// (http and https when none are given).
func (v *Validator) ValidateURL(field, value string, schemes ...string) *Validator {
	if value == "" {
		return v
	}
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return v.add(field, "must be an absolute URL, got %q", value)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return v
		}
	}
	return v.add(field, "scheme must be one of [%s], got %q", strings.Join(schemes, ", "), u.Scheme)
}

// Check records message for field when ok is false.
func (v *Validator) Check(field string, ok bool, message string) *Validator {
	if !ok {
		return v.add(field, "%s", message)
	}
	return v
}

// Result returns ValidationErrors, or nil when every check passed.
func (v *Validator) Result() error {
	if len(v.errors) == 0 {
		return nil
	}
	return ValidationErrors(append([]ValidationError(nil), v.errors...))
}

// HasErrors reports whether any check failed.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// ErrorCount returns the number of failed checks.
func (v *Validator) ErrorCount() int {
	return len(v.errors)
}
