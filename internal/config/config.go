// Package config loads and validates the runtime configuration from config
// files, environment, and defaults via viper.
package config

import (
	"fmt"
	"time"
)

// Sandbox backend names.
const (
	BackendInline    = "inline"
	BackendContainer = "container"
	BackendPod       = "pod"
)

// LLM provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config is the full runtime configuration.
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Provider ProviderConfig `mapstructure:"provider"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// PipelineConfig controls the retry loop.
type PipelineConfig struct {
	MaxAttempts            int  `mapstructure:"max_attempts"`
	ErrorCorrectionEnabled bool `mapstructure:"error_correction_enabled"`
}

// SandboxConfig selects and bounds the execution backend.
type SandboxConfig struct {
	Backend     string        `mapstructure:"backend"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MemoryLimit int64         `mapstructure:"memory_limit"`
	MaxSteps    int64         `mapstructure:"max_steps"`

	ContainerImage    string `mapstructure:"container_image"`
	ContainerPoolSize int    `mapstructure:"container_pool_size"`

	PodNamespace string `mapstructure:"pod_namespace"`
	PodImage     string `mapstructure:"pod_image"`
}

// CacheConfig controls the fingerprint code cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ProviderConfig selects the language model.
type ProviderConfig struct {
	Name           string `mapstructure:"name"`
	AnthropicModel string `mapstructure:"anthropic_model"`
	OllamaURL      string `mapstructure:"ollama_url"`
	OllamaModel    string `mapstructure:"ollama_model"`
}

// MemoryConfig controls conversation persistence.
type MemoryConfig struct {
	Persistent bool   `mapstructure:"persistent"`
	DBPath     string `mapstructure:"db_path"`
	RingSize   int    `mapstructure:"ring_size"`
}

// SecurityConfig controls the safety audit trail.
type SecurityConfig struct {
	AuditLogPath string `mapstructure:"audit_log_path"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}

	switch c.Sandbox.Backend {
	case BackendInline, BackendContainer, BackendPod:
	default:
		return fmt.Errorf("sandbox.backend must be one of inline, container, pod; got %q", c.Sandbox.Backend)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive, got %s", c.Sandbox.Timeout)
	}
	if c.Sandbox.MemoryLimit <= 0 {
		return fmt.Errorf("sandbox.memory_limit must be positive, got %d", c.Sandbox.MemoryLimit)
	}
	if c.Sandbox.Backend == BackendContainer && c.Sandbox.ContainerImage == "" {
		return fmt.Errorf("sandbox.container_image is required for the container backend")
	}
	if c.Sandbox.Backend == BackendPod && c.Sandbox.PodImage == "" {
		return fmt.Errorf("sandbox.pod_image is required for the pod backend")
	}

	switch c.Provider.Name {
	case ProviderAnthropic, ProviderOllama:
	default:
		return fmt.Errorf("provider.name must be anthropic or ollama, got %q", c.Provider.Name)
	}

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when the cache is enabled, got %s", c.Cache.TTL)
	}

	return nil
}
