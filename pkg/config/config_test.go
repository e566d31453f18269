package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamachat/internal/pkg/configutil"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.Conversation.MaxMessages)
	assert.Equal(t, 4, cfg.Orchestrator.MaxCompareModels)
	assert.Equal(t, 20, cfg.Benchmark.WindowSize)
	assert.InDelta(t, 0.7, cfg.Generation.Defaults.Temperature, 1e-9)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMACHAT_BACKEND_HOST", "gpu-box")
	t.Setenv("OLLAMACHAT_CONVERSATION_MAX_MESSAGES", "12")
	t.Setenv("OLLAMACHAT_ORCHESTRATOR_MODEL_TIMEOUT", "45s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gpu-box", cfg.Backend.Host)
	assert.Equal(t, 12, cfg.Conversation.MaxMessages)
	assert.Equal(t, 45*time.Second, cfg.Orchestrator.ModelTimeout)
	assert.Equal(t, 11434, cfg.Backend.Port)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
backend:
  port: 11500
models:
  default: ["llama3.2:latest", "qwen3:0.6b"]
  endpoints:
    - model: "qwen3:0.6b"
      host: "10.0.0.7"
storage:
  driver: sqlite
  path: /tmp/chat.db
generation:
  defaults:
    temperature: 0.2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"llama3.2:latest", "qwen3:0.6b"}, cfg.Models.Default)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.InDelta(t, 0.2, cfg.Generation.Defaults.Temperature, 1e-9)
	assert.Equal(t, 1000, cfg.Generation.Defaults.MaxTokens)

	host, port := cfg.EndpointFor("qwen3:0.6b")
	assert.Equal(t, "10.0.0.7", host)
	assert.Equal(t, 11500, port)

	host, port = cfg.EndpointFor("llama3.2:latest")
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 11500, port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Storage.Driver = "postgres"
	cfg.Orchestrator.RunTimeout = time.Second
	cfg.Orchestrator.ModelTimeout = time.Minute
	cfg.Generation.Defaults.Temperature = 3

	err := cfg.Validate()
	require.Error(t, err)

	var errs configutil.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.ElementsMatch(t,
		[]string{"server.port", "storage.driver", "orchestrator.run_timeout", "generation.defaults"},
		errs.Fields())
}

func TestValidate_OpenAIProviderNeedsBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Provider = "openai"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.base_url")

	cfg.Backend.BaseURL = "http://localhost:11434/v1"
	assert.NoError(t, cfg.Validate())
}
