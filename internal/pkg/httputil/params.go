package httputil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// ParseIntParam parses a positive integer query parameter with a default value
func ParseIntParam(c *gin.Context, param string, defaultValue int) int {
	if value := c.Query(param); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

// ParseIntParamWithRange parses an integer parameter clamped to [min, max]
func ParseIntParamWithRange(c *gin.Context, param string, defaultValue, min, max int) int {
	value := ParseIntParam(c, param, defaultValue)
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// ParseBoolParam parses a boolean parameter with a default value
func ParseBoolParam(c *gin.Context, param string, defaultValue bool) bool {
	if value := c.Query(param); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// PaginationParams represents standard pagination parameters
type PaginationParams struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PaginationConfig holds pagination bounds
type PaginationConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultPagination provides sensible defaults for pagination
var DefaultPagination = PaginationConfig{
	DefaultLimit: 20,
	MaxLimit:     100,
}

// ParsePaginationParams extracts limit and offset using DefaultPagination
func ParsePaginationParams(c *gin.Context) PaginationParams {
	return ParsePaginationParamsWithConfig(c, DefaultPagination)
}

// ParsePaginationParamsWithConfig extracts limit and offset with custom bounds
func ParsePaginationParamsWithConfig(c *gin.Context, config PaginationConfig) PaginationParams {
	return PaginationParams{
		Limit:  ParseIntParamWithRange(c, "limit", config.DefaultLimit, 1, config.MaxLimit),
		Offset: ParseIntParam(c, "offset", 0),
	}
}

// Window returns the [start, end) slice bounds of p over n items.
func (p PaginationParams) Window(n int) (int, int) {
	start := p.Offset
	if start > n {
		start = n
	}
	end := start + p.Limit
	if end > n {
		end = n
	}
	return start, end
}

// RequiredParam extracts a required path parameter
func RequiredParam(c *gin.Context, param string) (string, error) {
	value := strings.TrimSpace(c.Param(param))
	if value == "" {
		return "", fmt.Errorf("required parameter '%s' is missing", param)
	}
	return value, nil
}

// RequiredQueryParam extracts a required query parameter
func RequiredQueryParam(c *gin.Context, param string) (string, error) {
	value := strings.TrimSpace(c.Query(param))
	if value == "" {
		return "", fmt.Errorf("required query parameter '%s' is missing", param)
	}
	return value, nil
}
