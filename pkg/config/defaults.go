package config

// Defaults contains system-wide default configuration values, used when
// a workspace or playbook does not specify its own.
type Defaults struct {
	// LLMProvider names the LLMProviderRegistry entry used when a pack
	// does not pin one explicitly.
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// MaxIterations bounds the Playbook Runner's tool-call inner loop
	// (spec.md §4.4 fixes this at 5; this field only affects the outer
	// step count at which a run is forced to a conclusion).
	MaxIterations *int `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`

	// ExecutionMode is the fallback workspace execution mode when a
	// workspace record omits one.
	ExecutionMode ExecutionMode `yaml:"execution_mode,omitempty"`

	// Priority is the fallback workspace priority used to look up the
	// auto-execute confidence threshold (pkg/coordinator/threshold.go)
	// when a workspace record omits one.
	Priority WorkspacePriority `yaml:"priority,omitempty"`

	// ParamsMasking controls redaction of sensitive substrings from
	// Task.params before persistence.
	ParamsMasking *ParamsMaskingDefaults `yaml:"params_masking,omitempty"`
}

// ParamsMaskingDefaults holds task-parameter masking settings, applied
// system-wide to all task params before DB storage.
type ParamsMaskingDefaults struct {
	Enabled      bool   `yaml:"enabled"`
	PatternGroup string `yaml:"pattern_group"`
}
