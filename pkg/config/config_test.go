package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  endpoint: http://llm.local/v1\n"), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "http://llm.local/v1", cfg.LLM.Endpoint)
	assert.Equal(t, 120, cfg.LLM.TimeoutSec)
	assert.Equal(t, 3, cfg.Batch.Concurrency)
	assert.Equal(t, 5, cfg.Batch.ImportConcurrency)
	assert.Equal(t, 40, cfg.Relevance.Threshold)
	assert.Equal(t, "file", cfg.Storage.Backend)
}

func TestValidateLLM(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.ValidateLLM(), ErrMissingLLMEndpoint)

	cfg.LLM.Endpoint = "http://llm.local/v1"
	assert.ErrorIs(t, cfg.ValidateLLM(), ErrMissingLLMEndpoint)

	cfg.LLM.APIKey = "secret"
	assert.NoError(t, cfg.ValidateLLM())
}
