package config

import (
	"github.com/spf13/viper"
)

// SetViperDefaults sets all default configuration values in Viper.
func SetViperDefaults(v *viper.Viper) {
	// Pipeline defaults
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.error_correction_enabled", true)

	// Sandbox defaults
	v.SetDefault("sandbox.backend", BackendInline)
	v.SetDefault("sandbox.timeout", "30s")
	v.SetDefault("sandbox.memory_limit", 536870912) // 512MB
	v.SetDefault("sandbox.max_steps", 50000000)
	v.SetDefault("sandbox.container_image", "tabulon-runner:latest")
	v.SetDefault("sandbox.container_pool_size", 0)
	v.SetDefault("sandbox.pod_namespace", "default")
	v.SetDefault("sandbox.pod_image", "tabulon-sandboxd:latest")

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "24h")

	// Provider defaults
	v.SetDefault("provider.name", ProviderAnthropic)
	v.SetDefault("provider.anthropic_model", "claude-sonnet-4-5")
	v.SetDefault("provider.ollama_url", "http://localhost:11434")
	v.SetDefault("provider.ollama_model", "qwen2.5-coder")

	// Memory defaults
	v.SetDefault("memory.persistent", false)
	v.SetDefault("memory.db_path", "./tabulon.db")
	v.SetDefault("memory.ring_size", 100)

	// Security defaults
	v.SetDefault("security.audit_log_path", "./audit.log")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")
}
