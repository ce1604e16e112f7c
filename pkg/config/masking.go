package config

// MaskingPattern defines a single regex-based masking pattern.
type MaskingPattern struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Description string `yaml:"description,omitempty"`
}

// MaskingConfig controls redaction of sensitive substrings from a
// payload before persistence (pkg/masking), referenced by
// Defaults.ParamsMasking and any pack-level override.
type MaskingConfig struct {
	Enabled        bool             `yaml:"enabled"`
	PatternGroups  []string         `yaml:"pattern_groups,omitempty"`
	Patterns       []string         `yaml:"patterns,omitempty"`
	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
}
