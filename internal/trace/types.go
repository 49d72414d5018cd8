package trace

import "time"

// Event kinds recorded by the supervision loop.
const (
	KindCycleStart = "cycle.start"
	KindCycleError = "cycle.error"
	KindCycleStop  = "cycle.stop"

	KindAgentStatus   = "agent.status"
	KindAgentFeedback = "agent.feedback"
	KindAgentMerge    = "agent.merge"
	KindAgentReview   = "agent.review"
	KindAgentTurn     = "agent.turn"
	KindAgentAction   = "agent.action"

	KindCompressStart = "compress.start"
	KindCompressChunk = "compress.chunk"
	KindCompressPass  = "compress.pass"
	KindCompressDone  = "compress.done"

	KindContextComm    = "context.comm"
	KindContextGoals   = "context.goals"
	KindContextRolling = "context.rolling"
	KindContextSystem  = "context.system"
	KindContextOutput  = "context.output"

	KindCommLog     = "comm.log"
	KindRepoSync    = "repo.sync"
	KindInitDocs    = "init.docs"
	KindGenRequest  = "generate.request"
	KindGenResponse = "generate.response"
	KindHeartbeat   = "heartbeat"
)

// Event is one entry on the observability feed. Events are immutable once
// added to a buffer; the timestamp is defaulted at creation if unset.
type Event struct {
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates a timestamped event.
func NewEvent(kind, message string, payload map[string]any) Event {
	return Event{
		Kind:      kind,
		Message:   message,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
