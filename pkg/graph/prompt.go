package graph

import "strings"

// SystemPrompt is the fixed instruction set sent with every graph request.
const SystemPrompt = `You are a decision-analysis assistant. Given a scenario brief, produce a decision graph as a single JSON object and nothing else.

The JSON object has this shape:
{
  "root_id": "<id of the top-level decision node>",
  "nodes": [{"id": "...", "kind": "decision|option|outcome", "label": "...", "detail": "...", "confidence": 0.0}],
  "edges": [{"from": "...", "to": "...", "label": "..."}],
  "recommendation": "<id of the endorsed option node, if any>",
  "summary": "<2-3 sentence wrap-up>"
}

Rules:
- Every edge must reference node ids that appear in "nodes".
- "confidence" applies to outcome nodes only, as a value between 0 and 1.
- Do not wrap the JSON in markdown fences or add commentary around it.`

// BuildPrompt assembles the user prompt for one turn.
// brief is the scenario description; context carries optional
// caller-supplied background, passed through as-is.
func BuildPrompt(brief string, context string) string {
	var sb strings.Builder
	sb.WriteString("## Scenario Brief\n\n")
	sb.WriteString(brief)
	sb.WriteString("\n")

	if context != "" {
		sb.WriteString("\n## Additional Context\n\n")
		sb.WriteString(context)
		sb.WriteString("\n")
	}

	sb.WriteString("\nProduce the decision graph for this scenario.\n")
	return sb.String()
}
