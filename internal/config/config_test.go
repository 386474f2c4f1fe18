package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.True(t, cfg.Pipeline.ErrorCorrectionEnabled)
	assert.Equal(t, BackendInline, cfg.Sandbox.Backend)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, int64(536870912), cfg.Sandbox.MemoryLimit)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, ProviderAnthropic, cfg.Provider.Name)
}

func TestLoadFromFile(t *testing.T) {
	content := `
pipeline:
  max_attempts: 5
  error_correction_enabled: false
sandbox:
  backend: container
  timeout: 10s
  container_image: analysis-runner:v2
provider:
  name: ollama
`
	path := filepath.Join(t.TempDir(), "tabulon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.False(t, cfg.Pipeline.ErrorCorrectionEnabled)
	assert.Equal(t, BackendContainer, cfg.Sandbox.Backend)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "analysis-runner:v2", cfg.Sandbox.ContainerImage)
	assert.Equal(t, ProviderOllama, cfg.Provider.Name)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Pipeline.MaxAttempts = 0
	assert.ErrorContains(t, cfg.Validate(), "max_attempts")

	cfg = base()
	cfg.Sandbox.Backend = "chroot"
	assert.ErrorContains(t, cfg.Validate(), "backend")

	cfg = base()
	cfg.Sandbox.Timeout = 0
	assert.ErrorContains(t, cfg.Validate(), "timeout")

	cfg = base()
	cfg.Sandbox.MemoryLimit = -1
	assert.ErrorContains(t, cfg.Validate(), "memory_limit")

	cfg = base()
	cfg.Sandbox.Backend = BackendContainer
	cfg.Sandbox.ContainerImage = ""
	assert.ErrorContains(t, cfg.Validate(), "container_image")

	cfg = base()
	cfg.Provider.Name = "gpt"
	assert.ErrorContains(t, cfg.Validate(), "provider")

	cfg = base()
	cfg.Cache.TTL = 0
	assert.ErrorContains(t, cfg.Validate(), "cache.ttl")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TABULON_PIPELINE_MAX_ATTEMPTS", "7")
	t.Setenv("TABULON_SANDBOX_BACKEND", "inline")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pipeline.MaxAttempts)
}
