// Package masking redacts sensitive substrings from payloads before
// persistence (SPEC_FULL.md §6 "Alert/session masking before
// storage"): applied to Task.params at creation time by the Execution
// Coordinator. Adapted from the teacher's pkg/masking, generalized off
// per-MCP-server scoping (config.MCPServerRegistry's DataMasking field)
// onto the single system-wide config.Defaults.ParamsMasking this
// module carries instead.
package masking

import (
	"encoding/json"
	"log/slog"

	"github.com/haasonsaas/playbookengine/pkg/config"
)

// Service applies data masking to task params before they reach
// durable storage. Created once at application startup (singleton);
// thread-safe and stateless aside from its compiled patterns.
type Service struct {
	patterns      map[string]*CompiledPattern
	patternGroups map[string][]string
	codeMaskers   map[string]Masker
}

// NewService creates a Service with all built-in patterns compiled
// eagerly. Invalid patterns are logged and skipped.
func NewService() *Service {
	s := &Service{
		patterns:      make(map[string]*CompiledPattern),
		patternGroups: config.GetBuiltinConfig().PatternGroups,
		codeMaskers:   make(map[string]Masker),
	}

	s.compileBuiltinPatterns()
	s.registerMasker(&KubernetesSecretMasker{})

	slog.Info("masking service initialized",
		"builtin_patterns", len(config.GetBuiltinConfig().MaskingPatterns),
		"compiled_patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers))

	return s
}

// MaskParams applies cfg's masking rules to params, masking any string
// leaf value in place and returning a new map (params itself is left
// untouched). A nil or disabled cfg returns params unchanged.
func (s *Service) MaskParams(params map[string]interface{}, cfg *config.ParamsMaskingDefaults) map[string]interface{} {
	if cfg == nil || !cfg.Enabled || len(params) == 0 {
		return params
	}

	resolved := s.resolvePatternsFromGroup(cfg.PatternGroup)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return params
	}

	return s.maskValue(params, resolved).(map[string]interface{})
}

// MaskText applies cfg's masking rules to one string, for callers (e.g.
// pkg/toolexec) that need to redact a single tool-result blob rather
// than a structured params map. On masking failure, returns a
// redaction notice (fail-closed): a tool result is external content and
// shouldn't leak unmasked on a masker bug.
func (s *Service) MaskText(text string, cfg *config.ParamsMaskingDefaults) string {
	if cfg == nil || !cfg.Enabled || text == "" {
		return text
	}

	resolved := s.resolvePatternsFromGroup(cfg.PatternGroup)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return text
	}

	return s.applyMasking(text, resolved)
}

// maskValue recursively walks v, masking string leaves and leaving
// numbers/bools/nil untouched.
func (s *Service) maskValue(v interface{}, resolved *resolvedPatterns) interface{} {
	switch t := v.(type) {
	case string:
		return s.applyMasking(t, resolved)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = s.maskValue(val, resolved)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = s.maskValue(val, resolved)
		}
		return out
	default:
		return v
	}
}

// applyMasking applies code-based maskers then regex patterns to text.
func (s *Service) applyMasking(text string, resolved *resolvedPatterns) string {
	masked := text

	for _, name := range resolved.codeMaskerNames {
		masker, ok := s.codeMaskers[name]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked
}

func (s *Service) registerMasker(m Masker) {
	s.codeMaskers[m.Name()] = m
}

// MarshalForLog renders params as a compact JSON string for diagnostic
// logging, already masked — callers should never log raw params.
func MarshalForLog(params map[string]interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return "<unmarshalable params>"
	}
	return string(data)
}
