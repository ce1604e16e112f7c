package config

import (
	"fmt"
	"os"
)

// Validator validates configuration comprehensively with clear error messages
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *Validator) ValidateAll() error {
	// Validate in order: queue → playbooks → LLM providers → defaults → notify
	// so each dependency is validated before anything that references it.

	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validatePlaybooks(); err != nil {
		return fmt.Errorf("playbook validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	if err := v.validateNotify(); err != nil {
		return fmt.Errorf("notify validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q == nil {
		return fmt.Errorf("queue configuration is nil")
	}

	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return fmt.Errorf("worker_count must be between 1 and 50, got %d", q.WorkerCount)
	}
	if q.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be at least 1, got %d", q.MaxConcurrentTasks)
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", q.PollInterval)
	}
	if q.PollIntervalJitter < 0 {
		return fmt.Errorf("poll_interval_jitter must be non-negative, got %v", q.PollIntervalJitter)
	}
	if q.PollIntervalJitter >= q.PollInterval {
		return fmt.Errorf("poll_interval_jitter must be less than poll_interval, got jitter=%v interval=%v", q.PollIntervalJitter, q.PollInterval)
	}
	if q.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be positive, got %v", q.TaskTimeout)
	}
	if q.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be positive, got %v", q.GracefulShutdownTimeout)
	}
	if q.ReapInterval <= 0 {
		return fmt.Errorf("reap_interval must be positive, got %v", q.ReapInterval)
	}
	if q.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got %v", q.HeartbeatInterval)
	}
	if q.HeartbeatTTL <= 0 {
		return fmt.Errorf("heartbeat_ttl must be positive, got %v", q.HeartbeatTTL)
	}
	if q.NoHeartbeatTTL <= 0 {
		return fmt.Errorf("no_heartbeat_ttl must be positive, got %v", q.NoHeartbeatTTL)
	}
	if q.HeartbeatInterval >= q.HeartbeatTTL {
		return fmt.Errorf("heartbeat_interval must be less than heartbeat_ttl to prevent false zombie detection, got heartbeat=%v ttl=%v", q.HeartbeatInterval, q.HeartbeatTTL)
	}
	if q.RunnerHeartbeatMaxAge <= 0 {
		return fmt.Errorf("runner_heartbeat_max_age must be positive, got %v", q.RunnerHeartbeatMaxAge)
	}

	return nil
}

func (v *Validator) validateDefaults() error {
	defaults := v.cfg.Defaults
	if defaults == nil {
		return nil
	}

	if defaults.ExecutionMode != "" && !defaults.ExecutionMode.IsValid() {
		return NewValidationError("defaults", "", "execution_mode",
			fmt.Errorf("invalid execution mode: %s", defaults.ExecutionMode))
	}

	if defaults.Priority != "" && !defaults.Priority.IsValid() {
		return NewValidationError("defaults", "", "priority",
			fmt.Errorf("invalid priority: %s", defaults.Priority))
	}

	if defaults.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(defaults.LLMProvider) {
		return NewValidationError("defaults", "", "llm_provider",
			fmt.Errorf("LLM provider '%s' not found", defaults.LLMProvider))
	}

	if defaults.MaxIterations != nil && *defaults.MaxIterations < 1 {
		return NewValidationError("defaults", "", "max_iterations", fmt.Errorf("must be at least 1"))
	}

	if defaults.ParamsMasking != nil && defaults.ParamsMasking.Enabled {
		builtin := GetBuiltinConfig()
		groupName := defaults.ParamsMasking.PatternGroup
		if groupName == "" {
			return NewValidationError("defaults", "", "params_masking.pattern_group",
				fmt.Errorf("pattern_group is required when params masking is enabled"))
		}
		if _, exists := builtin.PatternGroups[groupName]; !exists {
			return NewValidationError("defaults", "", "params_masking.pattern_group",
				fmt.Errorf("pattern group '%s' not found in built-in groups", groupName))
		}
	}

	return nil
}

func (v *Validator) validatePlaybooks() error {
	referencedProviders := v.collectReferencedLLMProviders()

	for packID, pb := range v.cfg.PlaybookRegistry.GetAll() {
		if pb.PackID == "" {
			return NewValidationError("playbook", packID, "pack_id", fmt.Errorf("pack_id required"))
		}

		if !pb.SideEffectTier.IsValid() {
			return NewValidationError("playbook", packID, "side_effect_tier",
				fmt.Errorf("invalid side effect tier: %s", pb.SideEffectTier))
		}

		if pb.LLMProvider != "" {
			referencedProviders[pb.LLMProvider] = true
			if !v.cfg.LLMProviderRegistry.Has(pb.LLMProvider) {
				return NewValidationError("playbook", packID, "llm_provider",
					fmt.Errorf("LLM provider '%s' not found", pb.LLMProvider))
			}
		}

		if pb.SOPBody == "" && len(pb.StepSchema) == 0 && len(pb.Capabilities) == 0 && !IsBuiltinPack(packID) {
			return NewValidationError("playbook", packID, "", fmt.Errorf("a pack needs at least one of sop_body, step_schema, or capabilities"))
		}
	}

	return nil
}

func (v *Validator) validateLLMProviders() error {
	referencedProviders := v.collectReferencedLLMProviders()

	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}

		// Only validate API key environment variable for providers that are actually referenced.
		if referencedProviders[name] && provider.Type != LLMProviderTypeGRPC {
			if provider.APIKeyEnv != "" {
				if value := os.Getenv(provider.APIKeyEnv); value == "" {
					return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
				}
			}
		}

		if provider.Type == LLMProviderTypeGRPC && provider.BaseURL == "" {
			return NewValidationError("llm_provider", name, "base_url", fmt.Errorf("base_url (dial target) required for grpc provider"))
		}

		if provider.MaxToolResultTokens < 1000 {
			return NewValidationError("llm_provider", name, "max_tool_result_tokens", fmt.Errorf("must be at least 1000"))
		}
	}

	return nil
}

// collectReferencedLLMProviders returns a set of LLM provider names that are
// actually referenced by Defaults or by a registered playbook.
func (v *Validator) collectReferencedLLMProviders() map[string]bool {
	referenced := make(map[string]bool)

	if v.cfg.Defaults != nil && v.cfg.Defaults.LLMProvider != "" {
		referenced[v.cfg.Defaults.LLMProvider] = true
	}

	if v.cfg.PlaybookRegistry == nil {
		return referenced
	}

	for _, pb := range v.cfg.PlaybookRegistry.GetAll() {
		if pb.LLMProvider != "" {
			referenced[pb.LLMProvider] = true
		}
	}

	return referenced
}

func (v *Validator) validateNotify() error {
	n := v.cfg.Notify
	if n == nil || !n.Enabled {
		return nil
	}

	if n.Channel == "" {
		return fmt.Errorf("system.notify.channel is required when notify is enabled")
	}

	if n.TokenEnv == "" {
		return fmt.Errorf("system.notify.token_env is required when notify is enabled")
	}

	if token := os.Getenv(n.TokenEnv); token == "" {
		return fmt.Errorf("system.notify.token_env: environment variable %s is not set", n.TokenEnv)
	}

	return nil
}
