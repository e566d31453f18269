package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamachat/internal/domain/entities"
)

func TestExporter_RecordSample(t *testing.T) {
	e := NewExporter("test")

	e.Record(entities.BenchmarkSample{
		Model:         "llama3",
		TTFT:          200 * time.Millisecond,
		TotalDuration: 2 * time.Second,
		OutputTokens:  40,
		Outcome:       entities.OutcomeOK,
	})
	e.Record(entities.BenchmarkSample{
		Model:         "llama3",
		TotalDuration: time.Second,
		Outcome:       entities.OutcomeTimeout,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(e.ModelCallsTotal.WithLabelValues("llama3", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.ModelCallsTotal.WithLabelValues("llama3", "timeout")))
	assert.Equal(t, 40.0, testutil.ToFloat64(e.ModelOutputTokens.WithLabelValues("llama3")))
	assert.Equal(t, 1, testutil.CollectAndCount(e.ModelTTFT))
	assert.Equal(t, 1, testutil.CollectAndCount(e.ModelTokensPerSec))
}

func TestExporter_OnMessageFinalized(t *testing.T) {
	e := NewExporter("test")

	done := entities.NewPlaceholder("c1", "mistral", "u1")
	done.Complete("hi", 0)
	failed := entities.NewPlaceholder("c1", "mistral", "u1")
	failed.Fail("The model did not respond in time.", "timeout")

	e.OnMessageFinalized(done)
	e.OnMessageFinalized(failed)
	e.OnMessageFinalized(entities.NewMessage("c1", entities.RoleUser, "ignored"))
	e.OnMessageFinalized(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.MessagesFinalized.WithLabelValues("mistral", "complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.MessagesFinalized.WithLabelValues("mistral", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(e.MessagesFinalized))
}

func TestExporter_MiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := NewExporter("test")
	e.Gauge("test_active_runs", "Active runs", func() float64 { return 3 })

	router := gin.New()
	router.Use(e.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.GET("/metrics", gin.WrapH(e.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.HTTPRequestsTotal.WithLabelValues("GET", "/ping", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_http_requests_total")
	assert.Contains(t, string(body), "test_active_runs 3")
	assert.Contains(t, string(body), "test_uptime_seconds")
}
