package orchestrator

import (
	"encoding/json"
	"strings"
)

// Agent action names the turn decision may carry. Anything else is
// normalized to ActionNone by the dispatcher before execution.
const (
	ActionNone         = "none"
	ActionSendMessage  = "sendMessage"
	ActionStartSession = "startSession"
)

// AgentAction is the pending action a turn decided on. It is recorded,
// never executed directly; execution belongs to a Dispatcher.
type AgentAction struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

// TurnOutput is the structured result of one turn decision.
// Log is never empty: parsing falls back to a default line.
type TurnOutput struct {
	UserMessage string      `json:"user_message"`
	AgentAction AgentAction `json:"agent_action"`
	Log         string      `json:"log"`
}

const defaultTurnLog = "Agent turn completed."

// ParseTurnOutput parses the generator's turn decision. Malformed JSON
// degrades to a default structure with a diagnostic log line; this never
// fails.
func ParseTurnOutput(raw string) TurnOutput {
	out := TurnOutput{
		AgentAction: AgentAction{Action: ActionNone, Payload: map[string]any{}},
	}

	var payload struct {
		UserMessage string          `json:"user_message"`
		AgentAction json.RawMessage `json:"agent_action"`
		Log         string          `json:"log"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		out.Log = "Turn output failed to parse; stored raw output."
		return out
	}

	out.UserMessage = strings.TrimSpace(payload.UserMessage)
	out.Log = strings.TrimSpace(payload.Log)

	if len(payload.AgentAction) > 0 {
		var action struct {
			Action  string          `json:"action"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(payload.AgentAction, &action); err == nil {
			if action.Action != "" {
				out.AgentAction.Action = action.Action
			}
			// A payload that is not an object degrades to empty.
			var m map[string]any
			if len(action.Payload) > 0 && json.Unmarshal(action.Payload, &m) == nil && m != nil {
				out.AgentAction.Payload = m
			}
		}
	}
	if out.Log == "" {
		out.Log = defaultTurnLog
	}
	return out
}

// ReviewDecision is the outcome of a pull-request review.
type ReviewDecision string

const (
	// ReviewApprove accepts the pull request for merging.
	ReviewApprove ReviewDecision = "approve"
	// ReviewReject sends the rationale back as feedback.
	ReviewReject ReviewDecision = "reject"
)

// ReviewResult carries a review decision with its rationale and the raw
// generated text for the trace feed.
type ReviewResult struct {
	Decision  ReviewDecision `json:"decision"`
	Rationale string         `json:"rationale"`
	Raw       string         `json:"-"`
}

// ParseReviewResult parses the review JSON. Anything other than an
// explicit approve, including malformed JSON, is a rejection: merges
// only happen on a well-formed positive decision.
func ParseReviewResult(raw string) ReviewResult {
	var payload struct {
		Decision  string `json:"decision"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return ReviewResult{Decision: ReviewReject, Rationale: "Invalid review format", Raw: raw}
	}
	result := ReviewResult{
		Decision:  ReviewReject,
		Rationale: strings.TrimSpace(payload.Rationale),
		Raw:       raw,
	}
	if ReviewDecision(payload.Decision) == ReviewApprove {
		result.Decision = ReviewApprove
	}
	return result
}
