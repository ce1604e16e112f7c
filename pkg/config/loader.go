package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// EngineYAMLConfig represents the complete playbookengine.yaml file structure.
type EngineYAMLConfig struct {
	System    *SystemYAMLConfig         `yaml:"system"`
	Playbooks map[string]PlaybookConfig `yaml:"playbooks"`
	Defaults  *Defaults                 `yaml:"defaults"`
	Queue     *QueueConfig              `yaml:"queue"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	AllowedStreamOrigins []string          `yaml:"allowed_stream_origins"`
	JWT                  *JWTYAMLConfig    `yaml:"jwt"`
	Redis                *RedisYAMLConfig  `yaml:"redis"`
	Notify               *NotifyYAMLConfig `yaml:"notify"`
	Retention            *RetentionConfig  `yaml:"retention"`
}

// JWTYAMLConfig holds bearer-token settings from YAML.
type JWTYAMLConfig struct {
	SigningKeyEnv string `yaml:"signing_key_env,omitempty"`
	Issuer        string `yaml:"issuer,omitempty"`
	TokenTTL      string `yaml:"token_ttl,omitempty"` // Parsed to time.Duration
}

// RedisYAMLConfig holds conversation-mirror settings from YAML.
type RedisYAMLConfig struct {
	Addr            string `yaml:"addr,omitempty"`
	PasswordEnv     string `yaml:"password_env,omitempty"`
	DB              int    `yaml:"db,omitempty"`
	ConversationTTL string `yaml:"conversation_ttl,omitempty"` // Parsed to time.Duration
}

// NotifyYAMLConfig holds outbound notification settings from YAML.
type NotifyYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Build in-memory registries
//  6. Apply default values
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized successfully",
		"playbooks", stats.Playbooks,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load playbookengine.yaml (contains playbooks, defaults, queue, system)
	engineConfig, err := loader.loadEngineYAML()
	if err != nil {
		return nil, NewLoadError("playbookengine.yaml", err)
	}

	// 2. Load llm-providers.yaml
	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined components (user overrides built-in)
	playbooks := mergePlaybooks(builtin.Playbooks, engineConfig.Playbooks)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	// 5. Build registries
	playbookRegistry := NewPlaybookRegistry(playbooks)
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	// 6. Resolve defaults (YAML overrides built-in)
	defaults := engineConfig.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.ExecutionMode == "" {
		defaults.ExecutionMode = ExecutionModeQA
	}
	if defaults.Priority == "" {
		defaults.Priority = WorkspacePriorityMedium
	}
	if defaults.ParamsMasking == nil {
		defaults.ParamsMasking = &ParamsMaskingDefaults{
			Enabled:      true,
			PatternGroup: "security",
		}
	}

	// Resolve queue config (merge user YAML with built-in defaults).
	// Start with defaults, then merge user config on top to preserve unset defaults.
	queueConfig := DefaultQueueConfig()
	if engineConfig.Queue != nil {
		if err := mergo.Merge(queueConfig, engineConfig.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	// Resolve system config (JWT + Redis + Notify + Retention + Stream)
	jwtCfg := resolveJWTConfig(engineConfig.System)
	redisCfg := resolveRedisConfig(engineConfig.System)
	notifyCfg := resolveNotifyConfig(engineConfig.System)
	retentionCfg := resolveRetentionConfig(engineConfig.System)
	streamCfg := resolveStreamConfig(engineConfig.System)

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		Queue:               queueConfig,
		Retention:           retentionCfg,
		JWT:                 jwtCfg,
		Redis:               redisCfg,
		Notify:              notifyCfg,
		Stream:              streamCfg,
		PlaybookRegistry:    playbookRegistry,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through original data on parse/execution errors,
	// allowing the YAML parser to handle the content (or fail with a
	// clearer error message).
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadEngineYAML() (*EngineYAMLConfig, error) {
	var cfg EngineYAMLConfig

	// Initialize map to avoid a nil map
	cfg.Playbooks = make(map[string]PlaybookConfig)

	if err := l.loadYAML("playbookengine.yaml", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var cfg LLMProvidersYAMLConfig

	cfg.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &cfg); err != nil {
		return nil, err
	}

	return cfg.LLMProviders, nil
}

// resolveJWTConfig resolves bearer-token configuration from system YAML, applying defaults.
func resolveJWTConfig(sys *SystemYAMLConfig) *JWTConfig {
	cfg := &JWTConfig{
		SigningKeyEnv: "JWT_SIGNING_KEY",
		TokenTTL:      1 * time.Hour,
	}

	if sys == nil || sys.JWT == nil {
		return cfg
	}

	j := sys.JWT
	if j.SigningKeyEnv != "" {
		cfg.SigningKeyEnv = j.SigningKeyEnv
	}
	if j.Issuer != "" {
		cfg.Issuer = j.Issuer
	}
	if j.TokenTTL != "" {
		if d, err := time.ParseDuration(j.TokenTTL); err == nil {
			cfg.TokenTTL = d
		} else {
			slog.Warn("invalid token_ttl in jwt config, using default",
				"value", j.TokenTTL,
				"default", cfg.TokenTTL,
				"error", err)
		}
	}

	return cfg
}

// resolveRedisConfig resolves the optional conversation-mirror configuration from system YAML.
func resolveRedisConfig(sys *SystemYAMLConfig) *RedisConfig {
	cfg := &RedisConfig{
		ConversationTTL: 30 * time.Minute,
	}

	if sys == nil || sys.Redis == nil {
		return cfg
	}

	r := sys.Redis
	cfg.Addr = r.Addr
	cfg.PasswordEnv = r.PasswordEnv
	cfg.DB = r.DB
	if r.ConversationTTL != "" {
		if d, err := time.ParseDuration(r.ConversationTTL); err == nil {
			cfg.ConversationTTL = d
		} else {
			slog.Warn("invalid conversation_ttl in redis config, using default",
				"value", r.ConversationTTL,
				"default", cfg.ConversationTTL,
				"error", err)
		}
	}

	return cfg
}

// resolveNotifyConfig resolves outbound notification configuration from system YAML.
func resolveNotifyConfig(sys *SystemYAMLConfig) *NotifyConfig {
	cfg := &NotifyConfig{
		Enabled:  false,
		TokenEnv: "NOTIFY_BOT_TOKEN",
	}

	if sys == nil || sys.Notify == nil {
		return cfg
	}

	n := sys.Notify
	if n.Enabled != nil {
		cfg.Enabled = *n.Enabled
	}
	if n.TokenEnv != "" {
		cfg.TokenEnv = n.TokenEnv
	}
	if n.Channel != "" {
		cfg.Channel = n.Channel
	}

	return cfg
}

// resolveRetentionConfig resolves retention configuration from system YAML, applying defaults.
func resolveRetentionConfig(sys *SystemYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if sys == nil || sys.Retention == nil {
		return cfg
	}

	r := sys.Retention
	if r.TaskRetentionDays > 0 {
		cfg.TaskRetentionDays = r.TaskRetentionDays
	}
	if r.EventTTL > 0 {
		cfg.EventTTL = r.EventTTL
	}
	if r.CleanupInterval > 0 {
		cfg.CleanupInterval = r.CleanupInterval
	}

	return cfg
}

// resolveStreamConfig resolves the streaming endpoint's allowed origins and tick interval.
func resolveStreamConfig(sys *SystemYAMLConfig) *StreamConfig {
	cfg := &StreamConfig{
		TickInterval: 1 * time.Second,
	}

	if sys != nil {
		cfg.AllowedOrigins = sys.AllowedStreamOrigins
	}

	return cfg
}
