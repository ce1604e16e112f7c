package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/playbookengine/pkg/config"
)

func TestCompileBuiltinPatterns(t *testing.T) {
	svc := NewService()

	// All built-in patterns should compile successfully.
	builtin := config.GetBuiltinConfig()
	assert.Equal(t, len(builtin.MaskingPatterns), len(svc.patterns),
		"All built-in patterns should compile")

	for name, cp := range svc.patterns {
		assert.NotNil(t, cp.Regex, "Pattern %s should have compiled regex", name)
		assert.NotEmpty(t, cp.Replacement, "Pattern %s should have replacement", name)
	}
}

func TestResolvePatternsFromGroup_GroupExpansion(t *testing.T) {
	svc := NewService()

	tests := []struct {
		name           string
		group          string
		minRegex       int
		hasCodeMaskers bool
	}{
		{name: "basic group", group: "basic", minRegex: 2},
		{name: "secrets group", group: "secrets", minRegex: 5},
		{name: "security group", group: "security", minRegex: 7},
		{name: "kubernetes group", group: "kubernetes", minRegex: 3, hasCodeMaskers: true},
		{name: "cloud group", group: "cloud", minRegex: 4},
		{name: "all group", group: "all", minRegex: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved := svc.resolvePatternsFromGroup(tt.group)

			assert.GreaterOrEqual(t, len(resolved.regexPatterns), tt.minRegex,
				"Should have at least %d regex patterns", tt.minRegex)

			if tt.hasCodeMaskers {
				assert.NotEmpty(t, resolved.codeMaskerNames, "Should have code maskers")
				assert.Contains(t, resolved.codeMaskerNames, "kubernetes_secret")
			}
		})
	}
}

func TestResolvePatternsFromGroup_UnknownGroup(t *testing.T) {
	svc := NewService()

	resolved := svc.resolvePatternsFromGroup("nonexistent_group")
	assert.Empty(t, resolved.regexPatterns)
	assert.Empty(t, resolved.codeMaskerNames)
}

func TestResolvePatternsFromGroup_Deduplication(t *testing.T) {
	svc := NewService()

	// basic and secrets both include api_key; resolving "all" should
	// never carry api_key twice.
	resolved := svc.resolvePatternsFromGroup("all")

	apiKeyCount := 0
	for _, p := range resolved.regexPatterns {
		if p.Name == "api_key" {
			apiKeyCount++
		}
	}
	assert.Equal(t, 1, apiKeyCount, "api_key should appear only once (deduplicated)")
}

func TestAddToResolved_UnknownPatternSkipped(t *testing.T) {
	svc := NewService()
	resolved := &resolvedPatterns{}

	svc.addToResolved(resolved, "does_not_exist", config.GetBuiltinConfig())

	assert.Empty(t, resolved.regexPatterns)
	assert.Empty(t, resolved.codeMaskerNames)
}

func TestCompileBuiltinPatterns_InvalidPatternSkipped(t *testing.T) {
	// Regression guard: compileBuiltinPatterns must not panic on an
	// invalid regex and must simply omit it.
	svc := &Service{
		patterns:      make(map[string]*CompiledPattern),
		patternGroups: config.GetBuiltinConfig().PatternGroups,
		codeMaskers:   make(map[string]Masker),
	}
	require.NotPanics(t, func() {
		svc.compileBuiltinPatterns()
	})
	assert.NotEmpty(t, svc.patterns)
}
