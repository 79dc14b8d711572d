package api

// maxBriefSize bounds the scenario brief plus context accepted in one
// submission.
const maxBriefSize = 64 * 1024

// SubmitDecisionRequest is the body of POST /api/v1/decisions.
type SubmitDecisionRequest struct {
	// ScenarioID and ClientTurnID together identify the logical turn;
	// retries must reuse both to be deduplicated.
	ScenarioID   string `json:"scenario_id"`
	ClientTurnID string `json:"client_turn_id"`
	// Brief is the scenario description to build the decision graph from.
	Brief string `json:"brief"`
	// Context is optional background material.
	Context string `json:"context,omitempty"`
}
