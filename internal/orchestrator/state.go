// Package orchestrator drives the supervision cycle: it polls the remote
// agent's status, keeps the bounded context window current, decides what
// to do next, and records every consequential step on the trace feed.
//
// One Loop owns one SharedState and one ProjectState for the lifetime of
// a run. Cycles never overlap; external writers touch only the small
// mutator surface SharedState exposes.
package orchestrator

import (
	"strings"
	"sync"

	"github.com/lukehenning/shepherd/internal/remote"
)

// StopSentinel is the interrupt payload that requests a shutdown. It
// takes effect at the next cycle boundary, never mid-cycle.
const StopSentinel = "__STOP__"

// SharedState is the mutable context window shared between the loop and
// external writers (dashboard, file watcher, TUI). All access goes
// through the mutex; the loop's own sequence is the only writer for the
// context fields, while interrupts, the system message, and the source
// selection accept concurrent external writes.
type SharedState struct {
	mu sync.Mutex

	interrupts     []string
	stopRequested  bool
	currentContext string

	selectedSource string
	sessionID      string

	systemMessage       string
	systemMessageLocked bool

	commChannel        string
	goalsPlan          string
	rollingContext     string
	lastUnreadResponse string

	generatorReady bool
	lastTurnOutput *TurnOutput
	noSession      bool
}

// NewSharedState creates an empty SharedState.
func NewSharedState() *SharedState {
	return &SharedState{}
}

// AddInterrupt appends an out-of-band instruction. The stop sentinel
// also raises the stop flag; the message itself still lands in the
// interrupt list so the feed shows what was submitted.
func (s *SharedState) AddInterrupt(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts = append(s.interrupts, message)
	if strings.EqualFold(strings.TrimSpace(message), StopSentinel) {
		s.stopRequested = true
	}
}

// Interrupts returns a copy of the pending interrupt list.
func (s *SharedState) Interrupts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.interrupts))
	copy(out, s.interrupts)
	return out
}

// ConsumeInterrupts drops the first n pending interrupts. The loop calls
// this after a turn has incorporated them; interrupts submitted while
// the turn ran stay queued for the next cycle.
func (s *SharedState) ConsumeInterrupts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return
	}
	if n >= len(s.interrupts) {
		s.interrupts = nil
		return
	}
	s.interrupts = append([]string(nil), s.interrupts[n:]...)
}

// InterruptBlock renders the pending interrupts as a context block plus
// the number of interrupts rendered, so a later consume can cover
// exactly the interrupts the built context showed. The block is "" when
// none are pending.
func (s *SharedState) InterruptBlock() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.interrupts) == 0 {
		return "", 0
	}
	var b strings.Builder
	b.WriteString("User interrupts:")
	for _, msg := range s.interrupts {
		b.WriteString("\n- ")
		b.WriteString(msg)
	}
	return b.String(), len(s.interrupts)
}

// StopRequested reports whether the stop sentinel has been submitted.
func (s *SharedState) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// SetSystemMessage replaces the system message unless it is locked.
// Returns false when the lock suppressed the write.
func (s *SharedState) SetSystemMessage(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.systemMessageLocked {
		return false
	}
	s.systemMessage = text
	return true
}

// LockSystemMessage sets or clears the system-message lock. Locked means
// file-watch updates are ignored until unlocked.
func (s *SharedState) LockSystemMessage(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemMessageLocked = locked
}

// SystemMessage returns the current system message.
func (s *SharedState) SystemMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemMessage
}

// SetSelectedSource selects the remote source to supervise and clears
// the session binding so the next cycle re-resolves it.
func (s *SharedState) SetSelectedSource(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedSource = source
	s.sessionID = ""
	s.noSession = false
}

// SelectedSource returns the selected source id.
func (s *SharedState) SelectedSource() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedSource
}

// SetSessionID binds the loop to an agent session.
func (s *SharedState) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

// SessionID returns the bound agent session id, "" if none.
func (s *SharedState) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetNoSession records whether source resolution found no session this
// cycle. While set, remote calls are suppressed.
func (s *SharedState) SetNoSession(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noSession = v
}

// NoSession reports the no-session flag.
func (s *SharedState) NoSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noSession
}

// SetGeneratorReady records the generator readiness probe result.
func (s *SharedState) SetGeneratorReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generatorReady = ready
}

// GeneratorReady reports whether the generator answered the readiness
// probe. While false the loop declines generation work instead of
// erroring.
func (s *SharedState) GeneratorReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generatorReady
}

func (s *SharedState) setCommChannel(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commChannel = text
}

func (s *SharedState) setGoalsPlan(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goalsPlan = text
}

func (s *SharedState) setRollingContext(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollingContext = text
}

func (s *SharedState) setLastUnreadResponse(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUnreadResponse = text
}

func (s *SharedState) setCurrentContext(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentContext = text
}

func (s *SharedState) setLastTurnOutput(out *TurnOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTurnOutput = out
}

// LastTurnOutput returns the most recent structured turn decision, nil
// before the first turn.
func (s *SharedState) LastTurnOutput() *TurnOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTurnOutput
}

// Snapshot is a point-in-time copy of the externally readable state.
type Snapshot struct {
	SelectedSource      string      `json:"selected_source"`
	SessionID           string      `json:"session_id"`
	SystemMessage       string      `json:"system_message"`
	SystemMessageLocked bool        `json:"system_message_locked"`
	CommChannel         string      `json:"comm_channel"`
	GoalsPlan           string      `json:"goals_plan"`
	RollingContext      string      `json:"rolling_context"`
	LastUnreadResponse  string      `json:"last_unread_response"`
	CurrentContext      string      `json:"current_context"`
	GeneratorReady      bool        `json:"generator_ready"`
	StopRequested       bool        `json:"stop_requested"`
	NoSession           bool        `json:"no_session"`
	PendingInterrupts   int         `json:"pending_interrupts"`
	LastTurnOutput      *TurnOutput `json:"last_turn_output,omitempty"`
}

// Snapshot copies the externally readable fields under one lock hold.
func (s *SharedState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SelectedSource:      s.selectedSource,
		SessionID:           s.sessionID,
		SystemMessage:       s.systemMessage,
		SystemMessageLocked: s.systemMessageLocked,
		CommChannel:         s.commChannel,
		GoalsPlan:           s.goalsPlan,
		RollingContext:      s.rollingContext,
		LastUnreadResponse:  s.lastUnreadResponse,
		CurrentContext:      s.currentContext,
		GeneratorReady:      s.generatorReady,
		StopRequested:       s.stopRequested,
		NoSession:           s.noSession,
		PendingInterrupts:   len(s.interrupts),
		LastTurnOutput:      s.lastTurnOutput,
	}
}

// ProjectState is the loop's view of the supervised project. The
// requirements-met flag is the loop's sole termination condition.
type ProjectState struct {
	mu sync.Mutex

	docsSummary     string
	codebaseSummary string
	lastAgentStatus remote.Status
	requirementsMet bool
}

// NewProjectState creates a ProjectState with unknown agent status.
func NewProjectState() *ProjectState {
	return &ProjectState{lastAgentStatus: remote.StatusUnknown}
}

func (p *ProjectState) setDocsSummary(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docsSummary = text
}

// DocsSummary returns the compressed documentation digest.
func (p *ProjectState) DocsSummary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.docsSummary
}

func (p *ProjectState) setCodebaseSummary(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codebaseSummary = text
}

// CodebaseSummary returns the compressed codebase digest.
func (p *ProjectState) CodebaseSummary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codebaseSummary
}

func (p *ProjectState) setLastAgentStatus(status remote.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAgentStatus = status
}

// LastAgentStatus returns the agent status observed by the latest cycle.
func (p *ProjectState) LastAgentStatus() remote.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAgentStatus
}

func (p *ProjectState) markRequirementsMet() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requirementsMet = true
}

// RequirementsMet reports whether the run reached its terminal state.
func (p *ProjectState) RequirementsMet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requirementsMet
}
