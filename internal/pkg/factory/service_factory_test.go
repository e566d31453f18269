package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamachat/internal/pkg/logutil"
	"ollamachat/pkg/config"
)

func TestInitialize_DefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	ctx := context.Background()
	container, err := NewServiceFactory(logutil.NewNopLogger()).Initialize(ctx, InitializationOptions{
		Config:                cfg,
		ValidateConfiguration: true,
	})
	require.NoError(t, err)
	defer container.Shutdown(ctx)

	assert.NotNil(t, container.Store)
	assert.NotNil(t, container.Orchestrator)
	assert.NotNil(t, container.Benchmarker)
	assert.Nil(t, container.Messaging)
	assert.Nil(t, container.Bridge)
	assert.Len(t, container.Events, 1)

	checks := container.HealthChecks()
	assert.Contains(t, checks, "storage")
	assert.Contains(t, checks, "backend")
	assert.NotContains(t, checks, "messaging")
	assert.NoError(t, checks["storage"](ctx))

	require.NotNil(t, container.Exporter)
	families, err := container.Exporter.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names[cfg.Metrics.Namespace+"_active_runs"])
	assert.True(t, names[cfg.Metrics.Namespace+"_websocket_clients"])
}

func TestInitialize_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Port = -1

	_, err := NewServiceFactory(logutil.NewNopLogger()).Initialize(context.Background(), InitializationOptions{
		Config:                cfg,
		ValidateConfiguration: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"localhost", 11434, "http://localhost:11434"},
		{"http://gpu-box", 8080, "http://gpu-box:8080"},
		{"https://gpu-box/", 443, "https://gpu-box:443"},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, baseURL(tt.host, tt.port))
		})
	}
}
