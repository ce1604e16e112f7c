package config

// Config is the umbrella configuration object that encapsulates
// all registries, defaults, and configuration state.
// This is the primary object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// System-wide defaults
	Defaults  *Defaults
	Queue     *QueueConfig
	Retention *RetentionConfig
	JWT       *JWTConfig
	Redis     *RedisConfig
	Notify    *NotifyConfig
	Stream    *StreamConfig

	// Component registries
	PlaybookRegistry    *PlaybookRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// Initialize is defined in loader.go

// ConfigStats contains statistics about loaded configuration
type ConfigStats struct {
	Playbooks    int
	LLMProviders int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Playbooks:    len(c.PlaybookRegistry.GetAll()),
		LLMProviders: len(c.LLMProviderRegistry.GetAll()),
	}
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetPlaybook retrieves a playbook configuration by pack id.
// This is a convenience method that wraps PlaybookRegistry.Get().
func (c *Config) GetPlaybook(packID string) (*PlaybookConfig, error) {
	return c.PlaybookRegistry.Get(packID)
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}
