package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/ports"
)

// Client provides native Ollama API access: streamed chat and model
// administration.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var (
	_ ports.ChatBackend = (*Client)(nil)
	_ ports.ModelAdmin  = (*Client)(nil)
)

// NewClient creates a new Ollama API client. Requests are bounded by their
// context; the HTTP client itself has no timeout so long streams survive.
func NewClient(baseURL string) *Client {
	// The native API lives at the root, not under the OpenAI-compatible /v1.
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type listModelsResponse struct {
	Models []ports.ModelSummary `json:"models"`
}

type runningModelsResponse struct {
	Models []ports.RunningModel `json:"models"`
}

type versionResponse struct {
	Version string `json:"version"`
}

type modelRequest struct {
	Model     string `json:"model"`
	Stream    *bool  `json:"stream,omitempty"`
	KeepAlive *int   `json:"keep_alive,omitempty"`
}

// do sends a request and returns the response when the status is 200.
// Transport failures wrap apperr.ErrUnreachable; other statuses become
// *apperr.BackendError. The caller closes the body.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnreachable, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, backendError(resp)
	}
	return resp, nil
}

// backendError extracts Ollama's {"error": "..."} body when present.
func backendError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &apperr.BackendError{Code: resp.StatusCode, Message: msg}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ListModels returns all installed models
func (c *Client) ListModels(ctx context.Context) ([]ports.ModelSummary, error) {
	var response listModelsResponse
	if err := c.getJSON(ctx, "/api/tags", &response); err != nil {
		return nil, err
	}
	return response.Models, nil
}

// ShowModel gets detailed information about a specific model
func (c *Client) ShowModel(ctx context.Context, name string) (*ports.ModelInfo, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/show", modelRequest{Model: name})
	if err != nil {
		var be *apperr.BackendError
		if errors.As(err, &be) && be.Code == http.StatusNotFound {
			return nil, apperr.NotFound("model", name)
		}
		return nil, err
	}
	defer resp.Body.Close()

	var info ports.ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &info, nil
}

// PullModel downloads a model, reporting each progress line to progressFn.
func (c *Client) PullModel(ctx context.Context, name string, progressFn func(ports.PullProgress)) error {
	stream := true
	resp, err := c.do(ctx, http.MethodPost, "/api/pull", modelRequest{Model: name, Stream: &stream})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var progress struct {
			ports.PullProgress
			Error string `json:"error,omitempty"`
		}
		if err := decoder.Decode(&progress); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("failed to decode progress: %w", err)
		}
		if progress.Error != "" {
			return fmt.Errorf("pull %s failed: %s", name, progress.Error)
		}

		if progressFn != nil {
			progressFn(progress.PullProgress)
		}
		if progress.Status == "success" {
			return nil
		}
	}
}

// DeleteModel removes a model
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/delete", modelRequest{Model: name})
	if err != nil {
		var be *apperr.BackendError
		if errors.As(err, &be) && be.Code == http.StatusNotFound {
			return apperr.NotFound("model", name)
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// RunningModels returns currently loaded models
func (c *Client) RunningModels(ctx context.Context) ([]ports.RunningModel, error) {
	var response runningModelsResponse
	if err := c.getJSON(ctx, "/api/ps", &response); err != nil {
		return nil, err
	}
	return response.Models, nil
}

// UnloadModel evicts a model from memory by generating with keep_alive 0.
func (c *Client) UnloadModel(ctx context.Context, name string) error {
	return c.keepAlive(ctx, name, 0)
}

// KeepLoaded loads a model and keeps it resident for d. A negative d
// keeps it loaded indefinitely.
func (c *Client) KeepLoaded(ctx context.Context, name string, d time.Duration) error {
	seconds := -1
	if d >= 0 {
		seconds = int(d.Seconds())
	}
	return c.keepAlive(ctx, name, seconds)
}

func (c *Client) keepAlive(ctx context.Context, name string, seconds int) error {
	stream := false
	resp, err := c.do(ctx, http.MethodPost, "/api/generate", modelRequest{Model: name, KeepAlive: &seconds, Stream: &stream})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Version returns the server version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var response versionResponse
	if err := c.getJSON(ctx, "/api/version", &response); err != nil {
		return "", err
	}
	return response.Version, nil
}

// Ping checks if Ollama is available
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama not available: %w", err)
	}
	resp.Body.Close()
	return nil
}
