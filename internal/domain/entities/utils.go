package entities

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a globally unique identifier.
func NewID() string {
	return uuid.New().String()
}

// truncate shortens s to n runes, appending "..." when it was cut.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
