package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lukehenning/shepherd/internal/commlog"
	"github.com/lukehenning/shepherd/internal/compress"
	"github.com/lukehenning/shepherd/internal/config"
	"github.com/lukehenning/shepherd/internal/llm"
	"github.com/lukehenning/shepherd/internal/logging"
	"github.com/lukehenning/shepherd/internal/remote"
	"github.com/lukehenning/shepherd/internal/trace"
)

// Target token budgets for the maintenance transforms.
const (
	commSummaryTokens    = 1000
	goalsPlanTokens      = 1000
	rollingContextTokens = 1200
	unreadResponseTokens = 300
)

// Loop executes supervision cycles against a remote agent session.
// Cycles never overlap; Run and RunOnce must be called from one
// goroutine only.
type Loop struct {
	cfg        *config.Config
	generator  Generator
	compressor Compressor
	agent      AgentService
	repo       RepoControl
	messages   MessageLog
	dispatcher Dispatcher
	trace      *trace.Buffer
	logger     *logging.Logger

	shared  *SharedState
	project *ProjectState

	initialized bool
	cycle       int

	// visibleInterrupts is the interrupt count the most recently built
	// context rendered; the turn consumes exactly that many.
	visibleInterrupts int
}

// Options carries the collaborators a Loop drives.
type Options struct {
	Config     *config.Config
	Generator  Generator
	Compressor Compressor
	Agent      AgentService
	Repo       RepoControl
	Messages   MessageLog
	Dispatcher Dispatcher
	Trace      *trace.Buffer
	Logger     *logging.Logger
	Shared     *SharedState
}

// New creates a Loop. A nil Dispatcher defaults to recording actions on
// the trace feed without executing them; a nil Shared state is created
// fresh.
func New(opts Options) *Loop {
	shared := opts.Shared
	if shared == nil {
		shared = NewSharedState()
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = &RecordingDispatcher{Trace: opts.Trace}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Loop{
		cfg:        opts.Config,
		generator:  opts.Generator,
		compressor: opts.Compressor,
		agent:      opts.Agent,
		repo:       opts.Repo,
		messages:   opts.Messages,
		dispatcher: dispatcher,
		trace:      opts.Trace,
		logger:     logger.WithComponent("loop"),
		shared:     shared,
		project:    NewProjectState(),
	}
}

// Shared returns the loop's shared state for external writers.
func (l *Loop) Shared() *SharedState { return l.shared }

// Project returns the loop's project state.
func (l *Loop) Project() *ProjectState { return l.project }

func (l *Loop) record(kind, message string, payload map[string]any) {
	if l.trace != nil {
		l.trace.Record(kind, message, payload)
	}
}

// Initialize probes generator readiness and builds the documentation
// digest. Called automatically by the first cycle; safe to call ahead
// of time.
func (l *Loop) Initialize(ctx context.Context) error {
	if l.initialized {
		return nil
	}
	l.shared.SetGeneratorReady(l.generator.Ready(ctx))

	docsText := loadDocs(l.cfg.Repo.Path, l.cfg.Docs.Path, l.cfg.Docs.IncludeReadme)
	l.record(trace.KindInitDocs, "Compressing docs", map[string]any{"bytes": len(docsText)})
	if l.shared.GeneratorReady() {
		summary, err := l.compressor.Compress(ctx, docsText, l.cfg.Compression.TargetTotalTokens)
		if err != nil {
			return fmt.Errorf("orchestrator: docs digest: %w", err)
		}
		l.project.setDocsSummary(summary)
	}
	l.initialized = true
	return nil
}

// RunOnce executes one supervision cycle. Collaborator failures return
// an error but leave the loop runnable; Run records them and continues.
func (l *Loop) RunOnce(ctx context.Context) error {
	if l.shared.StopRequested() {
		l.project.markRequirementsMet()
		l.record(trace.KindCycleStop, "Stop requested; cycle skipped", nil)
		return nil
	}
	if !l.initialized {
		if err := l.Initialize(ctx); err != nil {
			return err
		}
	}

	l.cycle++
	logger := l.logger.WithCycle(l.cycle)
	l.record(trace.KindCycleStart, "Cycle started", map[string]any{"cycle": l.cycle})

	// Only status observations feed the goals transform; local
	// bookkeeping (sync, feedback, merges) goes to the trace feed.
	var observations []string

	l.syncAgentMessages(ctx)

	l.record(trace.KindRepoSync, "Syncing main branch", nil)
	if err := l.repo.SyncMain(ctx); err != nil {
		return fmt.Errorf("orchestrator: sync main: %w", err)
	}

	texts, err := l.repo.ReadTextFiles(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: read codebase: %w", err)
	}
	l.record(trace.KindRepoSync, "Compressing codebase", map[string]any{"files": len(texts)})
	if l.shared.GeneratorReady() {
		summary, err := l.compressor.CompressMany(ctx, texts, l.cfg.Compression.TargetTotalTokens)
		if err != nil {
			return fmt.Errorf("orchestrator: codebase digest: %w", err)
		}
		l.project.setCodebaseSummary(summary)
	}

	status := l.queryStatus(ctx, &observations)
	l.project.setLastAgentStatus(status)
	logger.Info("agent status", "status", string(status))

	switch status {
	case remote.StatusInProcess:
		// Nothing to answer remotely; just keep context current.

	case remote.StatusNeedsInput:
		l.buildCommChannel(ctx)
		l.updateGoalsAndRolling(ctx, observations)
		if err := l.answerPendingRequest(ctx); err != nil {
			return err
		}

	case remote.StatusReadyForReview:
		l.buildCommChannel(ctx)
		l.updateGoalsAndRolling(ctx, observations)
		if err := l.reviewPullRequest(ctx); err != nil {
			return err
		}
	}

	// Tail: every branch ends here so the context and the turn decision
	// reflect whatever just happened.
	l.respondToUnread(ctx)
	l.buildCommChannel(ctx)
	l.updateGoalsAndRolling(ctx, observations)
	l.buildContext("")
	l.runTurn(ctx)

	return nil
}

// Run executes cycles until the terminal flag is set, the configured
// max-iteration count is reached, or ctx is canceled. Cycle errors are
// recorded and swallowed; they never stop the loop.
func (l *Loop) Run(ctx context.Context) {
	iterations := 0
	interval := time.Duration(l.cfg.Loop.PollIntervalSeconds) * time.Second
	for {
		if l.project.RequirementsMet() {
			l.record(trace.KindCycleStop, "Requirements met; stopping", nil)
			return
		}
		if l.cfg.Loop.MaxIterations > 0 && iterations >= l.cfg.Loop.MaxIterations {
			l.record(trace.KindCycleStop, "Max iterations reached", map[string]any{"iterations": iterations})
			return
		}
		if err := l.RunOnce(ctx); err != nil {
			l.record(trace.KindCycleError, "Cycle error", map[string]any{"error": err.Error()})
			l.logger.Error("cycle error", "error", err)
		}
		iterations++
		select {
		case <-ctx.Done():
			l.record(trace.KindCycleStop, "Context canceled", nil)
			return
		case <-time.After(interval):
		}
	}
}

// queryStatus asks the agent for its status, synthesizing unknown when
// no session exists or the call fails. Status failures never abort the
// cycle; the branch logic just sees unknown.
func (l *Loop) queryStatus(ctx context.Context, observations *[]string) remote.Status {
	if l.shared.NoSession() {
		l.record(trace.KindAgentStatus, "No session for selected source", map[string]any{"status": "not_started"})
		*observations = append(*observations, "Agent status: not started (no session for selected source).")
		return remote.StatusUnknown
	}
	status, err := l.agent.Status(ctx, l.shared.SessionID())
	if err != nil {
		l.record(trace.KindAgentStatus, "Status query failed", map[string]any{"error": err.Error()})
		*observations = append(*observations, "Agent status: unknown (query failed).")
		return remote.StatusUnknown
	}
	l.record(trace.KindAgentStatus, "Status received", map[string]any{"status": string(status)})
	*observations = append(*observations, "Agent status: "+string(status)+".")
	return status
}

// syncAgentMessages resolves the session for the selected source if
// needed and pulls new agent activities into the message log, dedup'd
// by activity id. Failures are recorded and skipped.
func (l *Loop) syncAgentMessages(ctx context.Context) {
	if l.shared.SessionID() == "" && l.shared.SelectedSource() != "" {
		id, err := l.agent.ResolveSessionForSource(ctx, l.shared.SelectedSource())
		if err != nil {
			l.record(trace.KindCommLog, "Session resolution failed", map[string]any{"error": err.Error()})
			return
		}
		if id == "" {
			l.shared.SetNoSession(true)
			return
		}
		l.shared.SetSessionID(id)
	}
	if l.shared.SessionID() == "" {
		return
	}
	l.shared.SetNoSession(false)

	activities, err := l.agent.RecentActivities(ctx, l.shared.SessionID(), l.cfg.Agent.ActivityPageSize)
	if err != nil {
		l.record(trace.KindCommLog, "Failed to fetch agent activities", map[string]any{"error": err.Error()})
		return
	}
	for _, activity := range activities {
		if activity.Content == "" {
			continue
		}
		opts := commlog.AppendOptions{
			ExternalID: activity.ID,
			SessionID:  l.shared.SessionID(),
		}
		if ts, err := time.Parse(time.RFC3339, activity.Timestamp); err == nil {
			opts.Timestamp = ts
		}
		_, err := l.messages.Append(commlog.SourceAgent, activity.Role, activity.Content, opts)
		if err != nil {
			l.record(trace.KindCommLog, "Failed to store activity", map[string]any{"error": err.Error()})
		}
	}
}

// buildCommChannel rebuilds the communication-channel block: a history
// summary, the latest user messages, the latest agent messages, and the
// last unread-response text if any.
func (l *Loop) buildCommChannel(ctx context.Context) {
	noSession := l.shared.NoSession()
	sessionID := l.shared.SessionID()

	history := ""
	if !noSession {
		history = l.messages.HistoryAsText(sessionID)
	}
	summary := ""
	switch {
	case noSession:
		summary = "No coding sessions have been run on this project yet."
	case history != "" && l.shared.GeneratorReady():
		s, err := l.compressor.SummarizeHistory(ctx, history, commSummaryTokens)
		if err != nil {
			l.record(trace.KindContextComm, "History summary failed", map[string]any{"error": err.Error()})
			summary = "Summary unavailable; generation failed."
		} else {
			summary = s
		}
	case history != "":
		summary = "Summary pending; generator not ready."
	}

	var recentLines []string
	if !noSession {
		for _, msg := range l.messages.RecentFromRole(commlog.SourceUser, 3) {
			state := "unread"
			if msg.Read {
				state = "read"
			}
			recentLines = append(recentLines, fmt.Sprintf("- (%s) %s %s", state, msg.Timestamp.Format(time.RFC3339), msg.Content))
		}
	}

	var agentLines []string
	if !noSession {
		agentMsgs := l.messages.AgentMessages(sessionID)
		if len(agentMsgs) > 3 {
			agentMsgs = agentMsgs[len(agentMsgs)-3:]
		}
		for _, msg := range agentMsgs {
			agentLines = append(agentLines, fmt.Sprintf("- %s %s", msg.Timestamp.Format(time.RFC3339), msg.Content))
		}
	}
	if len(agentLines) == 0 {
		agentLines = append(agentLines, "No agent messages for this source yet.")
	}

	recentBlock := "None"
	if len(recentLines) > 0 {
		recentBlock = strings.Join(recentLines, "\n")
	}
	blocks := []string{
		"Summary:\n" + summary,
		"Recent user messages:\n" + recentBlock,
		"Agent messages:\n" + strings.Join(agentLines, "\n"),
	}
	if resp := l.sharedLastUnreadResponse(); resp != "" {
		blocks = append(blocks, "Response to unread messages:\n"+resp)
	}
	channel := strings.Join(blocks, "\n\n")
	l.shared.setCommChannel(channel)
	l.record(trace.KindContextComm, "Communication channel updated", map[string]any{"length": len(channel)})
}

func (l *Loop) sharedLastUnreadResponse() string {
	return l.shared.Snapshot().LastUnreadResponse
}

// updateGoalsAndRolling evolves the goals/plan and rolling-context
// fields from the cycle's external events. Without a ready generator
// the fields get placeholder text instead.
func (l *Loop) updateGoalsAndRolling(ctx context.Context, events []string) {
	var lines []string
	for _, e := range events {
		if e != "" {
			lines = append(lines, "- "+e)
		}
	}
	eventsText := strings.Join(lines, "\n")

	snap := l.shared.Snapshot()
	goals, rolling := snap.GoalsPlan, snap.RollingContext

	if l.shared.GeneratorReady() {
		if goals == "" {
			goals = "This is the first cycle; there are no plans yet. " +
				"Create an initial goals and plans section based on events."
		}
		if rolling == "" {
			rolling = "This is the first cycle; there is no rolling context yet. " +
				"Create an initial rolling context based on events."
		}
		if updated, err := l.compressor.UpdateGoalsPlan(ctx, goals, eventsText, goalsPlanTokens); err == nil {
			goals = updated
		} else {
			l.record(trace.KindContextGoals, "Goals update failed", map[string]any{"error": err.Error()})
		}
		if updated, err := l.compressor.UpdateRollingContext(ctx, rolling, eventsText, rollingContextTokens); err == nil {
			rolling = updated
		} else {
			l.record(trace.KindContextRolling, "Rolling context update failed", map[string]any{"error": err.Error()})
		}
	} else {
		if goals == "" {
			goals = "Goals and plans pending; generator not ready."
		}
		if rolling == "" {
			rolling = "Rolling context pending; generator not ready."
		}
	}

	l.shared.setGoalsPlan(goals)
	l.shared.setRollingContext(rolling)
	l.record(trace.KindContextGoals, "Goals and plans updated", map[string]any{"length": len(goals)})
	l.record(trace.KindContextRolling, "Rolling context updated", map[string]any{"length": len(rolling)})
}

// buildContext assembles the full context window, appending the pending
// interrupt block last so interrupts are always visible to the next
// generation call. The built text is retained for observers, and the
// count of interrupts the block rendered is retained so the turn
// consumes only interrupts some built context has shown.
func (l *Loop) buildContext(extra string) string {
	snap := l.shared.Snapshot()
	blocks := []string{
		"System Message:\n" + snap.SystemMessage,
		"Communication Channel:\n" + snap.CommChannel,
		"Goals and Plans:\n" + snap.GoalsPlan,
		"Rolling Context:\n" + snap.RollingContext,
	}
	if extra != "" {
		blocks = append(blocks, extra)
	}
	block, visible := l.shared.InterruptBlock()
	l.visibleInterrupts = visible
	if block != "" {
		blocks = append(blocks, block)
	}
	text := strings.Join(blocks, "\n\n")
	l.shared.setCurrentContext(text)
	return text
}

// respondToUnread drafts a short response to unread user messages,
// forwards it to the agent session, and marks the messages read. With
// nothing unread the response block is cleared.
func (l *Loop) respondToUnread(ctx context.Context) {
	unread := l.messages.UnreadFromRole(commlog.SourceUser)
	if len(unread) == 0 {
		l.shared.setLastUnreadResponse("")
		return
	}
	if !l.shared.GeneratorReady() {
		return
	}
	var lines []string
	for _, msg := range unread {
		lines = append(lines, "- "+msg.Content)
	}
	response, err := l.compressor.FormatUnreadResponse(ctx, strings.Join(lines, "\n"), unreadResponseTokens)
	if err != nil {
		l.record(trace.KindCommLog, "Unread response generation failed", map[string]any{"error": err.Error()})
		return
	}
	l.shared.setLastUnreadResponse(response)

	sessionID := l.shared.SessionID()
	if sessionID == "" {
		return
	}
	if err := l.agent.SendFeedback(ctx, sessionID, response, sessionID); err != nil {
		l.record(trace.KindCommLog, "Failed to send unread response", map[string]any{"error": err.Error()})
		return
	}
	ids := make([]string, 0, len(unread))
	for _, msg := range unread {
		ids = append(ids, msg.ID)
	}
	if err := l.messages.MarkRead(ids); err != nil {
		l.record(trace.KindCommLog, "Failed to mark messages read", map[string]any{"error": err.Error()})
	}
}

// runTurn asks the generator for one structured turn decision and
// records the pending action through the dispatcher. Interrupts that
// the built context rendered are consumed afterward; one submitted
// after the build stays pending for the next cycle.
func (l *Loop) runTurn(ctx context.Context) {
	if !l.shared.GeneratorReady() {
		return
	}

	unread := l.messages.UnreadFromRole(commlog.SourceUser)
	var lines []string
	for _, msg := range unread {
		lines = append(lines, "- "+msg.Content)
	}
	snap := l.shared.Snapshot()
	inputs := compress.TurnInputs{
		SystemMessage:  snap.SystemMessage,
		CommSummary:    snap.CommChannel,
		GoalsPlan:      snap.GoalsPlan,
		RollingContext: snap.RollingContext,
	}
	raw, err := l.compressor.TurnDecision(ctx, inputs, strings.Join(lines, "\n"))
	if err != nil {
		l.record(trace.KindAgentTurn, "Turn decision failed", map[string]any{"error": err.Error()})
		return
	}
	parsed := ParseTurnOutput(raw)
	l.shared.setLastTurnOutput(&parsed)
	l.record(trace.KindAgentTurn, "Agent turn produced", map[string]any{"action": parsed.AgentAction.Action})
	l.record(trace.KindContextOutput, "Agent output updated", map[string]any{"length": len(parsed.Log)})

	if err := l.dispatcher.Dispatch(ctx, parsed.AgentAction); err != nil {
		l.record(trace.KindAgentAction, "Dispatch failed", map[string]any{"error": err.Error()})
	}
	l.shared.ConsumeInterrupts(l.visibleInterrupts)
}

// answerPendingRequest handles the needsInput state: fetch the pending
// request, compress it, generate feedback from full context, send it.
func (l *Loop) answerPendingRequest(ctx context.Context) error {
	request, err := l.agent.PendingRequest(ctx, l.shared.SessionID())
	if err != nil {
		return fmt.Errorf("orchestrator: pending request: %w", err)
	}
	compressed, err := l.compressor.Compress(ctx, request.Content, l.cfg.Compression.MaxInputTokens)
	if err != nil {
		return fmt.Errorf("orchestrator: compress request: %w", err)
	}
	feedback, err := l.generateFeedback(ctx, compressed)
	if err != nil {
		return fmt.Errorf("orchestrator: generate feedback: %w", err)
	}
	if err := l.agent.SendFeedback(ctx, request.ID, feedback, l.shared.SessionID()); err != nil {
		return fmt.Errorf("orchestrator: send feedback: %w", err)
	}
	l.record(trace.KindAgentFeedback, "Feedback sent", map[string]any{"request_id": request.ID})
	return nil
}

// generateFeedback produces actionable feedback for the agent from the
// full context window plus the request text.
func (l *Loop) generateFeedback(ctx context.Context, requestText string) (string, error) {
	window := l.buildContext("Agent request:\n" + requestText)
	system := "You are a project manager supervising a coding agent. Provide concise, " +
		"actionable feedback to the agent based on project details and the request."
	return l.generator.Complete(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: window},
	})
}

// reviewPullRequest handles the readyForReview state: fetch PR metadata
// and diff, compress the diff, request an approve/reject decision. On
// approve the branch is merged and a successor session is started with
// the accumulated context; on reject the rationale goes back as
// feedback.
func (l *Loop) reviewPullRequest(ctx context.Context) error {
	pr, err := l.agent.PullRequestInfo(ctx, l.shared.SessionID())
	if err != nil {
		return fmt.Errorf("orchestrator: pull request info: %w", err)
	}
	if err := l.repo.FetchBranch(ctx, pr.Branch); err != nil {
		return fmt.Errorf("orchestrator: fetch branch: %w", err)
	}
	diff, err := l.repo.Diff(ctx, pr.Branch)
	if err != nil {
		return fmt.Errorf("orchestrator: diff: %w", err)
	}
	compressedDiff, err := l.compressor.Compress(ctx, diff, l.cfg.Compression.MaxInputTokens)
	if err != nil {
		return fmt.Errorf("orchestrator: compress diff: %w", err)
	}

	review, err := l.generateReview(ctx, compressedDiff, pr.Title+"\n"+pr.Description)
	if err != nil {
		return fmt.Errorf("orchestrator: review: %w", err)
	}
	l.record(trace.KindAgentReview, "Pull request reviewed", map[string]any{
		"decision":  string(review.Decision),
		"rationale": review.Rationale,
	})

	if review.Decision == ReviewApprove {
		if err := l.repo.MergeBranch(ctx, pr.Branch); err != nil {
			return fmt.Errorf("orchestrator: merge: %w", err)
		}
		seed := l.buildContext("Continue development from the current state.")
		sessionID, err := l.agent.StartOrContinueSession(ctx, seed, l.shared.SessionID(), l.shared.SelectedSource())
		if err != nil {
			return fmt.Errorf("orchestrator: start session: %w", err)
		}
		if sessionID != "" {
			l.shared.SetSessionID(sessionID)
		}
		l.record(trace.KindAgentMerge, "PR merged and session continued", map[string]any{"branch": pr.Branch})
		return nil
	}

	rationale := review.Rationale
	if rationale == "" {
		rationale = "Please address review findings."
	}
	if err := l.agent.SendFeedback(ctx, pr.ID, rationale, l.shared.SessionID()); err != nil {
		return fmt.Errorf("orchestrator: reject feedback: %w", err)
	}
	l.record(trace.KindAgentReview, "Review rejected", map[string]any{"branch": pr.Branch})
	return nil
}

// generateReview asks for a structured approve/reject decision on a
// pull request.
func (l *Loop) generateReview(ctx context.Context, diff, info string) (ReviewResult, error) {
	window := l.buildContext("PR info:\n" + info + "\n\nPR diff:\n" + diff)
	system := `Review the pull request for correctness, alignment with requirements, ` +
		`and code quality. Respond with JSON: {"decision": "approve"|"reject", "rationale": "..."}.`
	raw, err := l.generator.Complete(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: window},
	})
	if err != nil {
		return ReviewResult{}, err
	}
	return ParseReviewResult(raw), nil
}
