package httputil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"ollamachat/internal/domain/apperr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestWithTimeout(t *testing.T) {
	duration := 5 * time.Second
	ctx, cancel := WithTimeout(context.Background(), duration)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "Context should have a deadline")
	assert.True(t, time.Until(deadline) <= duration, "Deadline should be within the specified duration")
}

func TestTimeoutConfig_For(t *testing.T) {
	config := TimeoutConfig{
		Default: 15 * time.Second,
		Short:   3 * time.Second,
		Long:    45 * time.Second,
	}

	tests := []struct {
		operationType string
		expected      time.Duration
	}{
		{OperationStorage, config.Default},
		{OperationHealth, config.Short},
		{OperationModelAdmin, config.Long},
		{OperationInference, config.Long},
		{"unknown", config.Default},
	}

	for _, tt := range tests {
		t.Run(tt.operationType, func(t *testing.T) {
			assert.Equal(t, tt.expected, config.For(tt.operationType))
		})
	}
}

func TestParsePaginationParams(t *testing.T) {
	tests := []struct {
		name           string
		queryParams    map[string]string
		expectedLimit  int
		expectedOffset int
	}{
		{
			name:           "default_values",
			queryParams:    map[string]string{},
			expectedLimit:  DefaultPagination.DefaultLimit,
			expectedOffset: 0,
		},
		{
			name:           "custom_values",
			queryParams:    map[string]string{"limit": "50", "offset": "100"},
			expectedLimit:  50,
			expectedOffset: 100,
		},
		{
			name:           "invalid_limit",
			queryParams:    map[string]string{"limit": "invalid", "offset": "10"},
			expectedLimit:  DefaultPagination.DefaultLimit,
			expectedOffset: 10,
		},
		{
			name:           "negative_values",
			queryParams:    map[string]string{"limit": "-10", "offset": "-5"},
			expectedLimit:  DefaultPagination.DefaultLimit,
			expectedOffset: 0,
		},
		{
			name:           "exceeds_max_limit",
			queryParams:    map[string]string{"limit": "1000"},
			expectedLimit:  DefaultPagination.MaxLimit,
			expectedOffset: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			req := httptest.NewRequest("GET", "/test", nil)
			q := req.URL.Query()
			for key, value := range tt.queryParams {
				q.Add(key, value)
			}
			req.URL.RawQuery = q.Encode()
			c.Request = req

			result := ParsePaginationParams(c)

			assert.Equal(t, tt.expectedLimit, result.Limit, "Limit should match expected value")
			assert.Equal(t, tt.expectedOffset, result.Offset, "Offset should match expected value")
		})
	}
}

func TestPaginationParams_Window(t *testing.T) {
	tests := []struct {
		params     PaginationParams
		n          int
		start, end int
	}{
		{PaginationParams{Limit: 10, Offset: 0}, 25, 0, 10},
		{PaginationParams{Limit: 10, Offset: 20}, 25, 20, 25},
		{PaginationParams{Limit: 10, Offset: 40}, 25, 25, 25},
	}

	for _, tt := range tests {
		start, end := tt.params.Window(tt.n)
		assert.Equal(t, tt.start, start)
		assert.Equal(t, tt.end, end)
	}
}

func TestRequiredParam(t *testing.T) {
	tests := []struct {
		name        string
		paramValue  string
		expectError bool
	}{
		{name: "valid_param", paramValue: "123"},
		{name: "empty_param", paramValue: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Params = gin.Params{{Key: "id", Value: tt.paramValue}}

			result, err := RequiredParam(c, "id")

			if tt.expectError {
				assert.Error(t, err)
				assert.Empty(t, result)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.paramValue, result)
			}
		})
	}
}

func TestSuccessResponse(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	SuccessResponse(c, map[string]string{"message": "test"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Contains(t, w.Body.String(), `"message":"test"`)
}

func TestCreatedResponse(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	CreatedResponse(c, map[string]string{"id": "123"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"123"`)
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name           string
		errorFunc      func(*gin.Context, error)
		expectedStatus int
	}{
		{"bad_request_error", BadRequestError, http.StatusBadRequest},
		{"not_found_error", NotFoundError, http.StatusNotFound},
		{"internal_server_error", InternalServerError, http.StatusInternalServerError},
		{"service_unavailable_error", ServiceUnavailableError, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			tt.errorFunc(c, assert.AnError)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), `"success":false`)
			assert.Contains(t, w.Body.String(), `"error":`)
			assert.True(t, c.IsAborted())
		})
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"not_found", apperr.NotFound("conversation", "c1"), http.StatusNotFound},
		{"invalid_options", &apperr.OptionsError{Problems: []string{"x"}}, http.StatusBadRequest},
		{"invalid_turn", fmt.Errorf("wrap: %w", apperr.ErrInvalidTurn), http.StatusBadRequest},
		{"contention", apperr.ErrStoreContention, http.StatusServiceUnavailable},
		{"unreachable", apperr.ErrUnreachable, http.StatusServiceUnavailable},
		{"backend", &apperr.BackendError{Code: 500}, http.StatusBadGateway},
		{"other", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusForError(tt.err))
		})
	}
}

func TestSuccessResponseWithMeta(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	SuccessResponseWithMeta(c, map[string]string{"message": "test"}, map[string]interface{}{"total": 100, "page": 1})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":100`)
	assert.Contains(t, w.Body.String(), `"page":1`)
}

func TestCORSMiddleware(t *testing.T) {
	config := MiddlewareConfig{
		EnableCORS:     true,
		AllowedOrigins: []string{"https://example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("OPTIONS", "/test", nil)

	CORSMiddleware(config)(c)

	assert.Equal(t, http.StatusNoContent, w.Code, "OPTIONS request should return 204")
	assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestGetTimeoutForOperation(t *testing.T) {
	config := TimeoutConfig{
		Default: 15 * time.Second,
		Short:   3 * time.Second,
		Long:    45 * time.Second,
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/test", nil)
	TimeoutMiddleware(config)(c)

	assert.Equal(t, config.Long, GetTimeoutForOperation(c, OperationModelAdmin))

	ctx, cancel := WithOperationContext(c, OperationStorage)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "Context should have a deadline")
	assert.True(t, time.Until(deadline) <= config.Default)
}

func TestRateLimitMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RateLimitMiddleware(NewRateLimiter(60, 2)))
	router.GET("/ping", func(c *gin.Context) { SuccessResponse(c, "pong") })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different client has its own bucket.
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
