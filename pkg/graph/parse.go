package graph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Parse recovers a DecisionGraph from raw LLM output. The parser is
// intentionally forgiving about packaging: markdown fences and prose around
// the JSON object are stripped before decoding. The decoded graph is
// structurally validated before being returned.
func Parse(text string) (*DecisionGraph, error) {
	payload := extractJSON(text)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object found in model output")
	}

	var g DecisionGraph
	if err := json.Unmarshal([]byte(payload), &g); err != nil {
		return nil, fmt.Errorf("decode decision graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decision graph: %w", err)
	}
	return &g, nil
}

// extractJSON returns the outermost JSON object embedded in text, or ""
// when none is present. Models occasionally ignore the no-fences rule, so
// the first brace to the last brace is taken rather than trusting the whole
// response body.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if fenced, ok := stripFence(text); ok {
		text = fenced
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// stripFence removes a surrounding markdown code fence, with or without a
// language tag.
func stripFence(text string) (string, bool) {
	if !strings.HasPrefix(text, "```") {
		return "", false
	}
	rest := strings.TrimPrefix(text, "```")
	if nl := strings.Index(rest, "\n"); nl != -1 {
		// Drop the language tag line ("json", "JSON", or empty).
		rest = rest[nl+1:]
	}
	rest = strings.TrimSpace(rest)
	rest = strings.TrimSuffix(rest, "```")
	return strings.TrimSpace(rest), true
}
