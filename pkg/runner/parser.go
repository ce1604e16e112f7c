package runner

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParsedToolCall is one tool-call directive extracted from an assistant
// response (spec.md §4.4 step 3).
type ParsedToolCall struct {
	ToolName   string
	Parameters map[string]interface{}
}

// jsonFenceRe matches a markdown ```json fenced block (spec.md §4.4
// step 3, shape (d)).
var jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ParseToolCalls extracts zero or more tool-call directives from an
// assistant response, accepting the four shapes spec.md §4.4 step 3
// names: a wrapped {"tool_call": {...}} object, a bare {"tool_name":
// ..., "parameters": ...} object, a JSON array of either, any of the
// above fenced in ```json```. The fenced candidate is tried first since
// a model that bothers to fence its JSON is signalling that's the
// payload, not prose that happens to contain braces.
func ParseToolCalls(response string) []ParsedToolCall {
	candidates := make([]string, 0, 2)
	if m := jsonFenceRe.FindStringSubmatch(response); m != nil {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, response)

	for _, candidate := range candidates {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			continue
		}
		if calls := parseJSONToolCalls(trimmed); len(calls) > 0 {
			return calls
		}
	}
	return nil
}

func parseJSONToolCalls(s string) []ParsedToolCall {
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(s), &arr); err == nil {
		var out []ParsedToolCall
		for _, item := range arr {
			if c, ok := parseOneToolCall(item); ok {
				out = append(out, c)
			}
		}
		return out
	}

	if c, ok := parseOneToolCall(json.RawMessage(s)); ok {
		return []ParsedToolCall{c}
	}
	return nil
}

// parseOneToolCall recognizes shapes (a) and (b) of spec.md §4.4 step 3
// against a single JSON value.
func parseOneToolCall(raw json.RawMessage) (ParsedToolCall, bool) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ParsedToolCall{}, false
	}

	if wrapped, ok := generic["tool_call"].(map[string]interface{}); ok {
		return toolCallFromFields(wrapped)
	}

	if _, hasName := generic["tool_name"]; hasName {
		// Shape (b): only accept an object carrying nothing beyond
		// tool_name/parameters, so a structured-output payload that
		// happens to use "tool_name" as a domain field isn't misread
		// as a tool-call directive.
		for k := range generic {
			if k != "tool_name" && k != "parameters" {
				return ParsedToolCall{}, false
			}
		}
		return toolCallFromFields(generic)
	}

	return ParsedToolCall{}, false
}

func toolCallFromFields(m map[string]interface{}) (ParsedToolCall, bool) {
	name, _ := m["tool_name"].(string)
	if name == "" {
		return ParsedToolCall{}, false
	}
	params, _ := m["parameters"].(map[string]interface{})
	return ParsedToolCall{ToolName: name, Parameters: params}, true
}

// structuredOutputPrefix is the literal marker spec.md §4.4 step 4
// looks for before falling back to an embedded-JSON scan.
const structuredOutputPrefix = "STRUCTURED_OUTPUT:"

// ExtractStructuredOutput implements spec.md §4.4 step 4: prefer an
// explicit STRUCTURED_OUTPUT: prefix, falling back to a scan for any
// embedded JSON object.
func ExtractStructuredOutput(response string) (map[string]interface{}, bool) {
	if idx := strings.Index(response, structuredOutputPrefix); idx >= 0 {
		rest := strings.TrimSpace(response[idx+len(structuredOutputPrefix):])
		if obj, ok := extractJSONObject(rest); ok {
			return obj, true
		}
	}
	return scanEmbeddedJSONObject(response)
}

// extractJSONObject reads one brace-balanced JSON object starting at
// s's first '{'.
func extractJSONObject(s string) (map[string]interface{}, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				var obj map[string]interface{}
				if err := json.Unmarshal([]byte(s[start:i+1]), &obj); err != nil {
					return nil, false
				}
				return obj, true
			}
		}
	}
	return nil, false
}

// scanEmbeddedJSONObject looks for every brace-balanced JSON object in
// response and returns the last one found, on the theory that a
// multi-step reply's concluding payload is the intended structured
// output rather than an earlier example or quoted fragment.
func scanEmbeddedJSONObject(response string) (map[string]interface{}, bool) {
	var best map[string]interface{}
	for i := 0; i < len(response); i++ {
		if response[i] != '{' {
			continue
		}
		if obj, ok := extractJSONObject(response[i:]); ok && len(obj) > 0 {
			best = obj
		}
	}
	if best != nil {
		return best, true
	}
	return nil, false
}
