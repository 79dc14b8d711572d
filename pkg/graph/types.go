// Package graph defines the decision graph produced for a scenario turn:
// the structured map of decision points, options, and projected outcomes the
// LLM is asked to construct, plus the prompt that requests it and the parser
// that recovers it from model output.
package graph

import "fmt"

// NodeKind classifies a graph node.
type NodeKind string

const (
	// KindDecision is a point where the actor must choose.
	KindDecision NodeKind = "decision"
	// KindOption is one available choice at a decision point.
	KindOption NodeKind = "option"
	// KindOutcome is a projected consequence of following an option.
	KindOutcome NodeKind = "outcome"
)

// Node is one vertex of the decision graph.
type Node struct {
	ID    string   `json:"id"`
	Kind  NodeKind `json:"kind"`
	Label string   `json:"label"`
	// Detail is the model's elaboration; optional.
	Detail string `json:"detail,omitempty"`
	// Confidence is the model's self-assessed likelihood for outcome
	// nodes, 0..1; zero for other kinds.
	Confidence float64 `json:"confidence,omitempty"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	// Label describes the relationship; optional.
	Label string `json:"label,omitempty"`
}

// DecisionGraph is the complete artifact for one turn.
type DecisionGraph struct {
	RootID string `json:"root_id"`
	Nodes  []Node `json:"nodes"`
	Edges  []Edge `json:"edges"`
	// Recommendation names the option node the model endorses; optional.
	Recommendation string `json:"recommendation,omitempty"`
	// Summary is a short prose wrap-up of the graph.
	Summary string `json:"summary,omitempty"`
}

// Validate checks structural integrity: unique node ids, a root that exists,
// edges that reference known nodes, and a recommendation (if present) that
// names an option node.
func (g *DecisionGraph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	byID := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		switch n.Kind {
		case KindDecision, KindOption, KindOutcome:
		default:
			return fmt.Errorf("node %q has unknown kind %q", n.ID, n.Kind)
		}
		byID[n.ID] = n
	}
	if g.RootID == "" {
		return fmt.Errorf("graph has no root_id")
	}
	if _, ok := byID[g.RootID]; !ok {
		return fmt.Errorf("root_id %q does not name a node", g.RootID)
	}
	for i, e := range g.Edges {
		if _, ok := byID[e.From]; !ok {
			return fmt.Errorf("edge %d references unknown node %q", i, e.From)
		}
		if _, ok := byID[e.To]; !ok {
			return fmt.Errorf("edge %d references unknown node %q", i, e.To)
		}
	}
	if g.Recommendation != "" {
		rec, ok := byID[g.Recommendation]
		if !ok {
			return fmt.Errorf("recommendation %q does not name a node", g.Recommendation)
		}
		if rec.Kind != KindOption {
			return fmt.Errorf("recommendation %q names a %s node, want option", g.Recommendation, rec.Kind)
		}
	}
	return nil
}
