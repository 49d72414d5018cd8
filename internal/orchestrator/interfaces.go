package orchestrator

import (
	"context"

	"github.com/lukehenning/shepherd/internal/commlog"
	"github.com/lukehenning/shepherd/internal/compress"
	"github.com/lukehenning/shepherd/internal/llm"
	"github.com/lukehenning/shepherd/internal/remote"
	"github.com/lukehenning/shepherd/internal/trace"
)

// Generator issues chat completions for feedback and review prompts.
// Satisfied by *llm.Client.
type Generator interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
	Ready(ctx context.Context) bool
}

// Compressor is the context-maintenance surface of the compression
// pipeline. Satisfied by *compress.Pipeline.
type Compressor interface {
	Compress(ctx context.Context, text string, budget int) (string, error)
	CompressMany(ctx context.Context, texts []string, budget int) (string, error)
	SummarizeHistory(ctx context.Context, history string, targetTokens int) (string, error)
	UpdateGoalsPlan(ctx context.Context, current, events string, targetTokens int) (string, error)
	UpdateRollingContext(ctx context.Context, previous, events string, targetTokens int) (string, error)
	FormatUnreadResponse(ctx context.Context, messages string, targetTokens int) (string, error)
	TurnDecision(ctx context.Context, inputs compress.TurnInputs, unread string) (string, error)
}

// AgentService is the remote coding-agent surface the loop consumes.
// Satisfied by *remote.Client. Any call may fail; failures are
// cycle-scoped only.
type AgentService interface {
	Status(ctx context.Context, sessionID string) (remote.Status, error)
	PendingRequest(ctx context.Context, sessionID string) (*remote.Request, error)
	SendFeedback(ctx context.Context, requestID, feedback, sessionID string) error
	PullRequestInfo(ctx context.Context, sessionID string) (*remote.PullRequest, error)
	StartOrContinueSession(ctx context.Context, contextText, sessionID, source string) (string, error)
	RecentActivities(ctx context.Context, sessionID string, limit int) ([]remote.Activity, error)
	ListSources(ctx context.Context) ([]remote.Source, error)
	ResolveSessionForSource(ctx context.Context, source string) (string, error)
}

// RepoControl is the working-copy surface the loop consumes. Satisfied
// by *repo.Manager. Failures abort only the current cycle.
type RepoControl interface {
	SyncMain(ctx context.Context) error
	FetchBranch(ctx context.Context, branch string) error
	MergeBranch(ctx context.Context, branch string) error
	Diff(ctx context.Context, branch string) (string, error)
	ReadTextFiles(ctx context.Context) ([]string, error)
}

// MessageLog is the persistent message-log surface. Satisfied by
// *commlog.Log.
type MessageLog interface {
	Append(source, role, content string, opts commlog.AppendOptions) (*commlog.Message, error)
	Messages() []commlog.Message
	UnreadFromRole(role string) []commlog.Message
	RecentFromRole(role string, limit int) []commlog.Message
	MarkRead(ids []string) error
	HistoryAsText(sessionID string) string
	AgentMessages(sessionID string) []commlog.Message
}

// Dispatcher receives the pending agent action each turn decides on.
// The turn itself has no side effects; whether and how the action runs
// is entirely the dispatcher's call, which keeps unreviewed generated
// output away from mutating calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, action AgentAction) error
}

// RecordingDispatcher records pending actions on the trace feed without
// executing anything. This is the default.
type RecordingDispatcher struct {
	Trace *trace.Buffer
}

// Dispatch records the action and returns.
func (d *RecordingDispatcher) Dispatch(_ context.Context, action AgentAction) error {
	if d.Trace != nil {
		d.Trace.Record(trace.KindAgentAction, "Agent action recorded (not executed)", map[string]any{
			"action":  action.Action,
			"payload": action.Payload,
		})
	}
	return nil
}
